package fanout

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kfurusawa/winprob/internal/events"
	"github.com/kfurusawa/winprob/internal/telemetry"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type dateClient struct {
	date string // "" subscribes to every date
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Server fans out accepted prediction events to connected WebSocket
// consumers (site backends, notifiers). Consumers subscribe per game
// date with ?date=YYYY-MM-DD, or to everything with no query.
type Server struct {
	mu      sync.Mutex
	clients map[*dateClient]struct{}
}

func NewServer(bus *events.Bus) *Server {
	s := &Server{
		clients: make(map[*dateClient]struct{}),
	}
	bus.Subscribe(events.EventStateChange, s.forward)
	bus.Subscribe(events.EventInningEnd, s.forward)
	bus.Subscribe(events.EventGameEnd, s.forward)
	return s
}

// forward is called on the publisher's goroutine. It serializes the event
// and enqueues it to matching clients' send channels (non-blocking).
func (s *Server) forward(evt events.Event) error {
	data, err := MarshalEvent(evt)
	if err != nil {
		telemetry.Warnf("fanout: marshal error: %v", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if c.date != "" && c.date != evt.Date {
			continue
		}
		select {
		case c.send <- data:
		default:
			telemetry.Warnf("fanout: dropping message for slow client date=%s", c.date)
		}
	}
	return nil
}

// HandleWS is the HTTP handler for WebSocket upgrade requests.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	c := &dateClient{
		date: r.URL.Query().Get("date"),
		conn: conn,
		send: make(chan []byte, clientSendBuf),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	telemetry.Infof("fanout: client connected date=%q", c.date)

	go s.writePump(c)
	go s.readPump(c)
}

// writePump drains the client's send channel and writes to the WS connection.
// It owns the client lifecycle: on exit it removes the client from the map
// (so forward never sends to a stale channel) and closes the connection.
func (s *Server) writePump(c *dateClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Warnf("fanout: write error date=%q: %v", c.date, err)
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive by reading pongs / close frames.
// No upstream messages are expected from consumers.
// On exit it signals writePump via c.done (never closes c.send).
func (s *Server) readPump(c *dateClient) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *dateClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	telemetry.Infof("fanout: client disconnected date=%q", c.date)
}

// ListenAndServe starts the fanout WebSocket server.
func (s *Server) ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)

	addr := fmt.Sprintf(":%d", port)
	telemetry.Plainf("fanout: server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
