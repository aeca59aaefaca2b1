// Package ws publishes run progress to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/noisemap/noisemap/internal/pipeline"
	"go.uber.org/zap"
)

// writeTimeout bounds one frame write to a client.
const writeTimeout = 3 * time.Second

// Hub broadcasts every progress update as a JSON text frame. A client
// that connects mid-run first receives the latest frame. Each client has
// its own writer holding at most one pending frame, so a slow client only
// skips frames and never delays the others.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	log     *zap.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// offer queues message, replacing a frame the client has not taken yet.
func (c *client) offer(message []byte) {
	for {
		select {
		case c.send <- message:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, 1)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.offer(h.last)
	}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// OnProgress implements pipeline.ProgressListener.
func (h *Hub) OnProgress(u pipeline.Update) {
	msg, err := json.Marshal(u)
	if err != nil {
		h.log.Error("encode progress frame", zap.Error(err))
		return
	}
	h.Broadcast(msg)
}

// Broadcast queues message for every client without waiting on any write.
func (h *Hub) Broadcast(message []byte) {
	h.mu.Lock()
	h.last = message
	for c := range h.clients {
		c.offer(message)
	}
	h.mu.Unlock()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "run finished")
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and writes queued frames until the client
// leaves or a write fails. Messages sent by clients are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	c := h.add(conn)
	defer h.remove(c)
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.log.Debug("progress client dropped", zap.Error(err))
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

// Serve exposes the hub on addr at /progress until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *Hub, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/progress", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("progress endpoint listening", zap.String("addr", "ws://"+addr+"/progress"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
