package engine

import (
	"sync"

	"github.com/kfurusawa/winprob/internal/telemetry"
)

// gameWorker serializes all pipeline work for a single game. Every
// mutation runs as a closure on the worker's own goroutine, so no field
// here (or in the ladder/smoother path) needs a lock of its own.
type gameWorker struct {
	gameID string
	inbox  chan func()
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once

	// smoothed is the previous EWMA output, nil before a game's first
	// prediction. Owned by the worker goroutine.
	smoothed *float64
}

func newGameWorker(gameID string) *gameWorker {
	w := &gameWorker{
		gameID: gameID,
		inbox:  make(chan func(), 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *gameWorker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case fn := <-w.inbox:
			fn()
		}
	}
}

// Send enqueues a closure to run on the worker's goroutine.
// Non-blocking: drops the closure and logs a warning if the inbox is
// full, so one stuck game never blocks upstream feed processing.
func (w *gameWorker) Send(fn func()) {
	select {
	case <-w.quit:
		return
	default:
	}

	select {
	case w.inbox <- fn:
	default:
		telemetry.Metrics.InboxOverflows.Inc()
		telemetry.Warnf("game %s: inbox full (cap=%d), dropping update", w.gameID, cap(w.inbox))
	}
}

// Close stops the worker goroutine. Closures still queued are discarded.
func (w *gameWorker) Close() {
	w.closeOnce.Do(func() { close(w.quit) })
	<-w.done
}
