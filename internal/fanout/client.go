package fanout

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// Client connects to a winprob fanout server and republishes received
// prediction events onto a local in-process bus. Downstream consumers
// embed one of these instead of tailing the flat files.
type Client struct {
	addr string
	date string // "" subscribes to every date
	bus  *events.Bus
}

func NewClient(addr, date string, bus *events.Bus) *Client {
	return &Client{
		addr: addr,
		date: date,
		bus:  bus,
	}
}

// ConnectWithRetry connects to the fanout server and reconnects on failure
// with exponential backoff. Blocks until ctx is cancelled.
func (c *Client) ConnectWithRetry(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connStart := time.Now()
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(connStart) > time.Minute {
			attempt = 0
		}

		attempt++
		backoff := time.Duration(float64(minBackoff) * math.Pow(2, float64(min(attempt-1, 5))))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		if err != nil {
			telemetry.Warnf("fanout: connection lost (attempt %d): %v — retrying in %s", attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	url := fmt.Sprintf("ws://%s/ws", c.addr)
	if c.date != "" {
		url += "?date=" + c.date
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	telemetry.Infof("fanout: connected to %s date=%q", c.addr, c.date)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		evt, err := UnmarshalEvent(msg)
		if err != nil {
			telemetry.Warnf("fanout: unmarshal error: %v", err)
			continue
		}

		c.bus.Publish(evt)
	}
}
