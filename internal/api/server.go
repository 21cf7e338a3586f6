// Package api serves decoded readings over HTTP and websockets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/d21d3q/gosmartmeter/internal/metrics"
	"github.com/d21d3q/gosmartmeter/internal/sink"
)

const writeTimeout = 5 * time.Second

// Server is a sink that keeps the merged latest reading and pushes readings
// that change at least one value to connected websocket clients.
type Server struct {
	latest   *sink.Latest
	codec    sink.Codec
	profile  string
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex
}

func New(latest *sink.Latest, codec sink.Codec, profile string) *Server {
	return &Server{
		latest:  latest,
		codec:   codec,
		profile: profile,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (s *Server) Name() string { return "api" }

// Handler routes /, /latest, /ws and /metrics.
func (s *Server) Handler() http.Handler {
	metrics.Register()
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()
	logrus.WithField("addr", addr).Info("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	status := map[string]any{
		"message":  "gosmartmeter",
		"status":   "running",
		"profile":  s.profile,
		"encoding": s.codec.Name(),
	}
	if reading, ok := s.latest.Get(); ok {
		status["last_reading"] = reading.At.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.latest.Get()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no readings available yet"})
		return
	}
	data, err := sink.JSON{}.Marshal(reading)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	lock := s.addClient(conn)

	if reading, ok := s.latest.Get(); ok {
		if err := s.send(conn, lock, reading); err != nil {
			s.removeClient(conn)
			return
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.removeClient(conn)
			return
		}
	}
}

// Publish merges r into the latest reading and broadcasts it when some value
// changed. Clients that fail to receive are dropped.
func (s *Server) Publish(_ context.Context, r sink.Reading) error {
	if changed := s.latest.Update(r); len(changed) == 0 {
		return nil
	}
	s.clientsMu.RLock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(s.clients))
	for c, l := range s.clients {
		clients[c] = l
	}
	s.clientsMu.RUnlock()

	for c, l := range clients {
		if err := s.send(c, l, r); err != nil {
			logrus.WithError(err).WithField("remote", c.RemoteAddr().String()).Debug("dropping websocket client")
			s.removeClient(c)
		}
	}
	return nil
}

func (s *Server) send(conn *websocket.Conn, lock *sync.Mutex, r sink.Reading) error {
	data, err := s.codec.Marshal(r)
	if err != nil {
		return err
	}
	msgType := websocket.TextMessage
	if s.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	lock.Lock()
	defer lock.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(msgType, data)
}

func (s *Server) addClient(conn *websocket.Conn) *sync.Mutex {
	lock := &sync.Mutex{}
	s.clientsMu.Lock()
	s.clients[conn] = lock
	s.clientsMu.Unlock()
	return lock
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
	conn.Close()
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		c.Close()
		delete(s.clients, c)
	}
}

// ClientCount reports connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
