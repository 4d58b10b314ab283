// Package httpapi exposes the UI state over HTTP and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"transformer-telemetry/internal/config"
	"transformer-telemetry/internal/state"
	"transformer-telemetry/internal/telemetry"
)

const (
	streamBuffer = 16
	writeWait    = 5 * time.Second
)

// Monitor is the subset of the service the API needs.
type Monitor interface {
	Snapshot() state.UIState
	SelectEntity(id telemetry.EntityID) error
	Subscribe(fn func(state.UIState)) (unsubscribe func())
}

// Server serves snapshots, selection changes and a live snapshot stream.
type Server struct {
	cfg      config.HTTPConfig
	monitor  Monitor
	metrics  http.Handler
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New builds the API. metrics may be nil.
func New(cfg config.HTTPConfig, monitor Monitor, metrics http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		monitor: monitor,
		metrics: metrics,
		logger:  logger.With().Str("component", "http").Logger(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	return s
}

// Handler returns the routed handler with CORS and access logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/snapshot", s.snapshot).Methods(http.MethodGet)
	api.HandleFunc("/entities", s.entities).Methods(http.MethodGet)
	api.HandleFunc("/selection", s.selectEntity).Methods(http.MethodPut)
	api.HandleFunc("/stream", s.stream).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.LoggingHandler(s.logger, cors(r))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

type entitiesResponse struct {
	Entities []telemetry.EntityID `json:"entities"`
	Selected telemetry.EntityID   `json:"selected"`
}

func (s *Server) entities(w http.ResponseWriter, _ *http.Request) {
	snap := s.monitor.Snapshot()
	writeJSON(w, http.StatusOK, entitiesResponse{Entities: snap.Entities, Selected: snap.SelectedEntity})
}

type selectionRequest struct {
	Entity telemetry.EntityID `json:"entity"`
}

func (s *Server) selectEntity(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Entity == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"entity\": \"<id>\"}")
		return
	}

	err := s.monitor.SelectEntity(req.Entity)
	switch {
	case errors.Is(err, state.ErrUnknownEntity):
		writeError(w, http.StatusNotFound, "unknown entity "+string(req.Entity))
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// stream sends the current snapshot and then every later one. Slow clients
// skip intermediate snapshots; the newest one always gets through.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := make(chan state.UIState, streamBuffer)
	unsubscribe := s.monitor.Subscribe(func(st state.UIState) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.send(conn, s.monitor.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case st := <-updates:
			if err := s.send(conn, st); err != nil {
				s.logger.Debug().Err(err).Msg("stream closed")
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, st state.UIState) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(st)
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
