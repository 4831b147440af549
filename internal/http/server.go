package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"txlog/pkg/appender"
	"txlog/pkg/logfile"
	"txlog/pkg/txstate"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)

type iIDStore interface {
	LastCommittedTransaction() txstate.TransactionID
	LastClosedTransaction() txstate.ClosedTransaction
	CommittingTransactionID() int64
	PendingClosedCount() int
}

type iHealth interface {
	Healthy() bool
	Cause() error
}

type iMetrics interface {
	Snapshot() map[string]float64
}

type iLog interface {
	CurrentPosition() logfile.Position
	Versions() []uint64
}

type iAppender interface {
	Append(batch appender.Batch) (int64, error)
}

// Server exposes the instance's watermarks, health and metrics over HTTP,
// plus an operational endpoint for appending transactions.
type Server struct {
	idStore    iIDStore
	monitor    iHealth
	metrics    iMetrics
	log        iLog
	appender   iAppender
	newBatch   func(payload, header []byte) appender.Batch
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new status server instance.
func NewServer(idStore iIDStore, monitor iHealth, metrics iMetrics, log iLog, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		idStore: idStore,
		monitor: monitor,
		metrics: metrics,
		log:     log,
		URL:     "http://localhost:" + port,
		addr:    ":" + port,
	}
}

// SetAppender enables the append endpoint. newBatch builds a one-transaction
// batch wired to the instance's id store and position cache.
func (s *Server) SetAppender(a iAppender, newBatch func(payload, header []byte) appender.Batch) {
	s.appender = a
	s.newBatch = newBatch
}

// Start starts the server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)

	// Append endpoint only if an appender is wired.
	if s.appender != nil {
		r.Post("/api/transactions", s.handleAppend)
	}

	return r
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if len(req.Payload) == 0 {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "empty payload"})
		return
	}

	batch := s.newBatch(req.Payload, req.Header)
	txID, err := s.appender.Append(batch)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, AppendResponse{TransactionID: txID})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.monitor.Healthy() {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Healthy: false,
			Cause:   s.monitor.Cause().Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Healthy: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	committed := s.idStore.LastCommittedTransaction()
	closed := s.idStore.LastClosedTransaction()

	s.writeJSON(w, http.StatusOK, StatusResponse{
		CommittingID:     s.idStore.CommittingTransactionID(),
		LastCommittedID:  committed.ID,
		LastClosedID:     closed.ID,
		ClosedLogVersion: closed.Position.Version,
		ClosedByteOffset: closed.Position.Offset,
		PendingClosed:    s.idStore.PendingClosedCount(),
		WritePosition:    positionResponse(s.log.CurrentPosition()),
		LogVersions:      s.log.Versions(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}
