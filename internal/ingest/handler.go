package ingest

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kfurusawa/winprob/internal/core/bullpen"
	"github.com/kfurusawa/winprob/internal/core/engine"
	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

// Handler receives feed POSTs and routes them into the pipeline.
//
// Routes:
//
//	POST /feed/update     -> one GameStateUpdate (or a JSON array of them)
//	POST /feed/game       -> pregame registration (teams + pregame probability)
//	POST /feed/appearance -> relief appearance record(s) for the bullpen store
//	GET  /health          -> 200 OK
type Handler struct {
	eng         *engine.Engine
	bus         *events.Bus
	appearances *bullpen.AppearanceStore
}

func NewHandler(eng *engine.Engine, bus *events.Bus, appearances *bullpen.AppearanceStore) *Handler {
	return &Handler{
		eng:         eng,
		bus:         bus,
		appearances: appearances,
	}
}

// RegisterRoutes wires HTTP routes onto the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /feed/update", h.handleUpdate)
	mux.HandleFunc("POST /feed/game", h.handleGame)
	mux.HandleFunc("POST /feed/appearance", h.handleAppearance)
	mux.HandleFunc("GET /health", h.healthCheck)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		telemetry.Warnf("ingest: bad update body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Respond before processing — the feed does not use the response.
	w.WriteHeader(http.StatusOK)

	updates, err := decodeUpdates(body)
	if err != nil {
		telemetry.Metrics.UpdatesDropped.Inc()
		telemetry.Warnf("ingest: update parse error: %v", err)
		return
	}

	for _, u := range updates {
		h.bus.Publish(events.Event{
			Type:      events.EventRawUpdate,
			GameID:    u.GameID,
			Date:      u.Date,
			Timestamp: time.Now(),
			Payload:   u,
		})
	}
}

func (h *Handler) handleGame(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var info engine.GameInfo
	if err := json.Unmarshal(body, &info); err != nil {
		telemetry.Warnf("ingest: game registration parse error: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if info.GameID == "" {
		http.Error(w, "game_id required", http.StatusBadRequest)
		return
	}

	h.eng.RegisterGame(info)
	telemetry.Infof("ingest: game registered  id=%s  %s vs %s  pregame=%.3f",
		info.GameID, info.AwayTeam, info.HomeTeam, info.PregameProb)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAppearance(w http.ResponseWriter, r *http.Request) {
	if h.appearances == nil {
		http.Error(w, "appearance store disabled", http.StatusServiceUnavailable)
		return
	}

	body, err := readBody(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	apps, err := decodeAppearances(body)
	if err != nil {
		telemetry.Warnf("ingest: appearance parse error: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, a := range apps {
		if err := h.appearances.Insert(a); err != nil {
			telemetry.Errorf("ingest: appearance insert: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	telemetry.Infof("ingest: %d appearance(s) stored", len(apps))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// decodeUpdates accepts either a single update object or an array.
func decodeUpdates(body []byte) ([]events.GameStateUpdate, error) {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var batch []events.GameStateUpdate
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}

	var one events.GameStateUpdate
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []events.GameStateUpdate{one}, nil
}

func decodeAppearances(body []byte) ([]events.ReliefAppearance, error) {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var batch []events.ReliefAppearance
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}

	var one events.ReliefAppearance
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []events.ReliefAppearance{one}, nil
}

// readBody handles gzip-compressed and plain payloads. Some feed
// relays send raw gzip bytes without the Content-Encoding header —
// detected by magic bytes.
func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body
	defer r.Body.Close()

	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		defer gz.Close()
		reader = gz
	} else {
		buf := make([]byte, 2)
		n, err := io.ReadFull(r.Body, buf)
		if err != nil && n == 0 {
			return nil, fmt.Errorf("empty body")
		}
		if n >= 2 && buf[0] == 0x1f && buf[1] == 0x8b {
			combined := io.MultiReader(strings.NewReader(string(buf[:n])), r.Body)
			gz, err := gzip.NewReader(combined)
			if err != nil {
				return nil, fmt.Errorf("gzip magic: %w", err)
			}
			defer gz.Close()
			reader = gz
		} else {
			reader = io.MultiReader(strings.NewReader(string(buf[:n])), r.Body)
		}
	}

	body, err := io.ReadAll(io.LimitReader(reader, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
