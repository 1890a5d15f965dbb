package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"github.com/kfurusawa/winprob/internal/config"
	"github.com/kfurusawa/winprob/internal/core/bullpen"
	"github.com/kfurusawa/winprob/internal/core/engine"
	"github.com/kfurusawa/winprob/internal/core/state"
	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/persist"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

// Replays a recorded timeline through the live pipeline, typically with
// different model parameters, and prints recorded vs replayed
// probabilities side by side.
func main() {
	file := flag.String("file", "", "path to a timeline.jsonl to replay")
	paramsPath := flag.String("params", "", "model params yaml (defaults when empty)")
	rps := flag.Float64("rps", 25, "replay pace in events per second")
	out := flag.String("out", "", "output data dir (temp dir when empty)")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -file <timeline.jsonl> [-params model.yaml] [-rps 25]")
		os.Exit(2)
	}

	telemetry.Init(telemetry.ParseLogLevel("warn"))

	params, err := config.LoadModelParams(*paramsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load params: %v\n", err)
		os.Exit(1)
	}

	outDir := *out
	if outDir == "" {
		outDir, err = os.MkdirTemp("", "winprob-replay-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(outDir)
	}

	recorded, err := readTimeline(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read timeline: %v\n", err)
		os.Exit(1)
	}
	if len(recorded) == 0 {
		fmt.Fprintln(os.Stderr, "timeline is empty")
		os.Exit(1)
	}

	byIndex := make(map[int64]persist.LiveEvent, len(recorded))
	for _, rec := range recorded {
		byIndex[rec.EventIndex] = rec
	}

	bus := events.NewBus()
	eng := engine.New(
		bus,
		state.NewStore(),
		persist.NewWriter(outDir),
		bullpen.NewRater(nil, params.Bullpen),
		params,
		0,
		nil,
	)

	printReplayed := func(evt events.Event) error {
		ev, ok := evt.Payload.(persist.LiveEvent)
		if !ok {
			return nil
		}
		line := fmt.Sprintf("#%-4d %s%d %d out  %d-%d  replay=%.4f",
			ev.EventIndex, halfMark(ev.Half), ev.Inning, ev.Outs,
			ev.AwayScore, ev.HomeScore, ev.HomeWinProbability)
		if rec, ok := byIndex[ev.EventIndex]; ok {
			line += fmt.Sprintf("  recorded=%.4f  delta=%+.4f",
				rec.HomeWinProbability, ev.HomeWinProbability-rec.HomeWinProbability)
		}
		fmt.Println(line)
		return nil
	}
	bus.Subscribe(events.EventStateChange, printReplayed)
	bus.Subscribe(events.EventInningEnd, printReplayed)
	bus.Subscribe(events.EventGameEnd, printReplayed)

	first := recorded[0]
	eng.RegisterGame(engine.GameInfo{
		GameID:      first.GameID,
		Date:        first.Date,
		PregameProb: first.PregameProbability,
	})
	fmt.Printf("replaying %d events  game=%s  model=%s\n",
		len(recorded), first.GameID, params.ModelVersion)

	limiter := rate.NewLimiter(rate.Limit(*rps), 1)
	ctx := context.Background()
	for _, rec := range recorded {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		eng.ProcessUpdate(updateFrom(rec))
	}

	eng.Close()
}

func readTimeline(path string) ([]persist.LiveEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []persist.LiveEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec persist.LiveEvent
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// updateFrom reconstructs the raw feed shape from a persisted record so
// the replay exercises the same path as live traffic.
func updateFrom(rec persist.LiveEvent) events.GameStateUpdate {
	inning := rec.Inning
	half := rec.Half
	outs := rec.Outs
	home := rec.HomeScore
	away := rec.AwayScore
	index := rec.EventIndex

	return events.GameStateUpdate{
		GameID:     rec.GameID,
		Date:       rec.Date,
		Inning:     &inning,
		Half:       &half,
		Outs:       &outs,
		Bases:      rec.Bases,
		HomeScore:  &home,
		AwayScore:  &away,
		Pitcher:    rec.Pitcher,
		Batter:     rec.Batter,
		LastPlay:   rec.LastPlay,
		UpdatedAt:  rec.Timestamp.Unix(),
		EventIndex: &index,
		Source:     "replay",
	}
}

func halfMark(half string) string {
	if half == "bottom" {
		return "B"
	}
	return "T"
}
