// Package http exposes Catalyst's admin surface: health/readiness
// probes, Prometheus metrics, an ingress for submitting Actions to the
// queue, and a read-only snapshot of the current route table. Plain
// net/http.Server plus a ServeMux, no framework.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orbisoperations/catalyst/internal/action"
	"github.com/orbisoperations/catalyst/internal/rib"
	"github.com/orbisoperations/catalyst/internal/route"
)

// Dispatcher is the subset of *queue.Queue the ingress endpoint needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, act action.Action) (*rib.CommitResult, error)
}

// TickChecker reports whether the action queue has processed at least
// one system tick, satisfied by *tick.Driver.
type TickChecker interface {
	Ticked() bool
}

// DBChecker abstracts the audit database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

// RIBReader is the subset of *rib.RIB the snapshot endpoint needs.
type RIBReader interface {
	State() route.Table
	LocRib() map[route.Key]route.LocRibEntry
}

type Server struct {
	srv             *http.Server
	dispatcher      Dispatcher
	ribReader       RIBReader
	ticker          TickChecker
	dbChecker       DBChecker
	eventBusChecker DBChecker
	logger          *zap.Logger
}

// NewServer wires the admin mux. dbChecker and eventBusChecker may each
// be nil when the commit audit log / event bus producer is not
// configured, in which case readyz skips that check entirely rather
// than reporting it failed.
func NewServer(addr string, dispatcher Dispatcher, ribReader RIBReader, ticker TickChecker, dbChecker, eventBusChecker DBChecker, logger *zap.Logger) *Server {
	s := &Server{
		dispatcher:      dispatcher,
		ribReader:       ribReader,
		ticker:          ticker,
		dbChecker:       dbChecker,
		eventBusChecker: eventBusChecker,
		logger:          logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/actions", s.handleActions)
	mux.HandleFunc("/v1/rib", s.handleRIB)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.ticker != nil && s.ticker.Ticked() {
		checks["action_queue"] = "ok"
	} else {
		checks["action_queue"] = "not_ticked"
		allOK = false
	}

	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["audit_db"] = "error"
			allOK = false
		} else {
			checks["audit_db"] = "ok"
		}
	}

	if s.eventBusChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.eventBusChecker.Ping(ctx); err != nil {
			checks["event_bus"] = "error"
			allOK = false
		} else {
			checks["event_bus"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// handleActions decodes a JSON action.Envelope, enqueues it against the
// action queue, and returns the resulting CommitResult. A decode or
// validation failure is a client error (400); any other dispatch
// failure is a 500.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env action.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	act, err := action.Decode(env)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), act)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, action.ErrInvalidAction) {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// ribSnapshot is the JSON shape returned by GET /v1/rib: the full
// route table plus the best-path decision per key, read straight off
// the live RIB under its read lock.
type ribSnapshot struct {
	Table  route.Table                  `json:"table"`
	LocRib map[string]route.LocRibEntry `json:"loc_rib"`
}

func (s *Server) handleRIB(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	table := s.ribReader.State()
	locRib := s.ribReader.LocRib()

	keyed := make(map[string]route.LocRibEntry, len(locRib))
	for k, v := range locRib {
		keyed[string(k.Protocol)+"/"+k.Name] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ribSnapshot{Table: table, LocRib: keyed})
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
