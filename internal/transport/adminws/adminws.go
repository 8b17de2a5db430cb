// Package adminws serves an observability feed over WebSocket: periodic
// JSON snapshots of pipeline throughput and the active routing table,
// pushed to every connected operator client.
package adminws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halyardsys/protogate/internal/logging"
	"github.com/halyardsys/protogate/internal/pipeline"
	"github.com/halyardsys/protogate/internal/router"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshot is one periodic broadcast frame.
type Snapshot struct {
	Stats  pipeline.Stats    `json:"stats"`
	Routes []router.Summary `json:"routes"`
}

// Feed manages the set of connected admin WebSocket clients and
// broadcasts a Snapshot to all of them on a fixed interval.
type Feed struct {
	pipeline *pipeline.Pipeline
	router   *router.Router
	log      *logging.Logger
	interval time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// New constructs a Feed polling p and r every interval.
func New(p *pipeline.Pipeline, r *router.Router, log *logging.Logger, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Feed{
		pipeline: p,
		router:   r,
		log:      log,
		interval: interval,
		clients:  make(map[*websocket.Conn]chan []byte),
	}
}

// ServeHTTP upgrades the connection and registers it as a broadcast
// recipient until the client disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("adminws: upgrade failed", logging.Fields{"error": err.Error()})
		return
	}

	outbox := make(chan []byte, 8)
	f.mu.Lock()
	f.clients[conn] = outbox
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	// Drain and discard inbound frames so pong control messages are
	// processed and a client-initiated close is detected promptly.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for data := range outbox {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Run broadcasts a Snapshot every interval until stop is closed, then
// disconnects every client. It is meant to run in its own goroutine for
// the server's lifetime.
func (f *Feed) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.broadcast()
		case <-stop:
			f.mu.Lock()
			for conn, ch := range f.clients {
				close(ch)
				conn.Close()
				delete(f.clients, conn)
			}
			f.mu.Unlock()
			return
		}
	}
}

func (f *Feed) broadcast() {
	snap := Snapshot{Stats: f.pipeline.Stats(), Routes: f.router.Snapshot()}
	data, err := json.Marshal(snap)
	if err != nil {
		f.log.Error("adminws: snapshot marshal failed", logging.Fields{"error": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, ch := range f.clients {
		select {
		case ch <- data:
		default:
			f.log.Warn("adminws: client outbox full, dropping snapshot", nil)
			_ = conn
		}
	}
}
