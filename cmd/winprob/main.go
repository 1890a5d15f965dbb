package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kfurusawa/winprob/internal/config"
	"github.com/kfurusawa/winprob/internal/core/bullpen"
	"github.com/kfurusawa/winprob/internal/core/engine"
	"github.com/kfurusawa/winprob/internal/core/state"
	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/fanout"
	"github.com/kfurusawa/winprob/internal/ingest"
	"github.com/kfurusawa/winprob/internal/persist"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting winprob")

	// ── Model parameters ────────────────────────────────────────
	params, err := config.LoadModelParams(cfg.ModelParamsPath)
	if err != nil {
		telemetry.Errorf("Failed to load model params: %v", err)
		os.Exit(1)
	}
	telemetry.Infof("Model %s  curve=%s  w=[%.2f,%.2f]",
		params.ModelVersion, params.Mixer.Curve, params.Mixer.WMin, params.Mixer.WMax)

	bus := events.NewBus()
	gameStore := state.NewStore()
	writer := persist.NewWriter(cfg.DataDir)

	// ── Relief appearance store + rater ─────────────────────────
	var rater *bullpen.Rater
	appearances, err := bullpen.OpenAppearanceStore(cfg.AppearanceDBPath)
	if err != nil {
		telemetry.Warnf("Appearance store disabled: %v", err)
		appearances = nil
		rater = bullpen.NewRater(nil, params.Bullpen)
	} else {
		rater = bullpen.NewRater(appearances, params.Bullpen)
	}

	// ── Engine ──────────────────────────────────────────────────
	eng := engine.New(bus, gameStore, writer, rater, params, cfg.FinishedGameTTL, nil)

	// ── Fanout ──────────────────────────────────────────────────
	if cfg.FanoutEnabled {
		fanoutServer := fanout.NewServer(bus)
		go func() {
			if err := fanoutServer.ListenAndServe(cfg.FanoutPort); err != nil && err != http.ErrServerClosed {
				telemetry.Errorf("Fanout server: %v", err)
			}
		}()
		telemetry.Infof("Fanout listening on :%d", cfg.FanoutPort)
	}

	// ── Feed intake ─────────────────────────────────────────────
	feedHandler := ingest.NewHandler(eng, bus, appearances)
	mux := http.NewServeMux()
	feedHandler.RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", cfg.FeedPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Errorf("Feed server: %v", err)
			os.Exit(1)
		}
	}()
	telemetry.Infof("Feed intake listening on %q", addr)

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	eng.Close()
	if appearances != nil {
		appearances.Close()
	}

	telemetry.Infof("Shutdown complete  updates=%d  stale=%d  dropped=%d  written=%d  skipped=%d",
		telemetry.Metrics.UpdatesReceived.Value(),
		telemetry.Metrics.UpdatesStale.Value(),
		telemetry.Metrics.UpdatesDropped.Value(),
		telemetry.Metrics.EventsWritten.Value(),
		telemetry.Metrics.WritesSkipped.Value(),
	)
}
