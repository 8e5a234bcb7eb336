// Package web provides the HTTP status server for sprinklerd: an HTML
// status page, a JSON snapshot endpoint, and a /ws endpoint that pushes
// the same snapshot to connected browsers on every tick. Adapted from
// sweeney-boiler-sensor's internal/web, with the browser-side MQTT
// client (mqtt.min.js connecting straight to the broker) replaced by a
// same-origin websocket feed so the browser never needs broker
// credentials.
package web

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sprinklerd/sprinklerd/internal/status"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the status page, JSON endpoint, and live websocket feed.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker, clients: make(map[*websocket.Conn]struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and closes any open
// websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast pushes the current tracker snapshot to every connected
// websocket client. Call once per controller tick; a client with a
// full or broken write is dropped rather than blocking the caller.
func (s *Server) Broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return
	}
	payload := formatJSON(s.tracker.Snapshot())
	for c := range s.clients {
		c.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.Close()
			delete(s.clients, c)
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatJSON(snap))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteMessage(websocket.TextMessage, formatJSON(s.tracker.Snapshot()))

	go s.pingLoop(conn)
	s.readLoop(conn)
}

// pingLoop keeps the connection alive between broadcasts; sprinklerd's
// tick loop already pushes state every second, so this exists purely
// to satisfy the read deadline on idle links.
func (s *Server) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// readLoop drains incoming frames until the client disconnects, then
// removes it from the broadcast set.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
