// Package web exposes the queue over HTTP: job submission, status polling,
// a blocking execute endpoint, and a per-job WebSocket for push
// notifications.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/devcapsules/execq/internal/domain"
	"github.com/devcapsules/execq/internal/producer"
)

// Server wires the producer, facade, and store into HTTP handlers.
type Server struct {
	producer    *producer.Producer
	facade      *producer.Facade
	store       domain.JobStore
	notifier    domain.Notifier
	logger      *slog.Logger
	syncTimeout time.Duration
}

// NewServer builds the handler set. syncTimeout caps how long a blocking
// /api/execute call may wait.
func NewServer(p *producer.Producer, f *producer.Facade, store domain.JobStore, n domain.Notifier, syncTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		producer:    p,
		facade:      f,
		store:       store,
		notifier:    n,
		logger:      logger,
		syncTimeout: syncTimeout,
	}
}

// Routes assembles the chi router. The rate limiter guards the endpoints
// that enqueue work; reads are unmetered.
func (s *Server) Routes(limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.With(limiter.Middleware).Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{jobID}", s.handleStatus)
		r.With(limiter.Middleware).Post("/execute", s.handleExecuteSync)
		r.Get("/queue/stats", s.handleStats)
		r.Get("/ws", s.handleWS)
	})
	return r
}

// handleSubmit enqueues a job and returns its ID immediately.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req producer.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, err := s.producer.QueueJob(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, producer.ErrEmptyLanguage), errors.Is(err, producer.ErrEmptyCode):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrQueueUnavailable):
			s.logger.Error("Enqueue failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		default:
			s.logger.Error("Enqueue failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(domain.StateQueued),
	})
}

// handleStatus reports a job's status. A job with no status entry is still
// on the pending list (or expired), which the contract reports as queued.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	st, err := s.store.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrStatusNotFound) {
			writeJSON(w, http.StatusOK, domain.JobStatus{JobID: jobID, State: domain.StateQueued})
			return
		}
		s.logger.Error("Status read failed", "jobID", jobID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// syncRequest is the blocking-execute contract: a submission plus how long
// the caller is willing to wait.
type syncRequest struct {
	producer.SubmitRequest
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// handleExecuteSync runs a job through the facade and blocks for the result.
func (s *Server) handleExecuteSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > s.syncTimeout {
		timeout = s.syncTimeout
	}

	st, err := s.facade.ExecuteSync(r.Context(), req.SubmitRequest, timeout)
	if err != nil {
		switch {
		case errors.Is(err, producer.ErrEmptyLanguage), errors.Is(err, producer.ErrEmptyCode):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("Synchronous execution failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStats reports the derived queue length.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.QueueLength(r.Context())
	if err != nil {
		s.logger.Error("Queue length read failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"queue_length": n})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // embeds run on third-party origins
}

// handleWS streams status events for one job over a WebSocket. The
// connection closes after the terminal event is delivered.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	// Subscribe before the snapshot read so no event can slip between.
	events, stop, err := s.notifier.Subscribe(r.Context(), jobID)
	if err != nil {
		s.logger.Error("Subscribe failed", "jobID", jobID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	defer stop()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.logger.Info("Client subscribed", "jobID", jobID, "remoteAddr", conn.RemoteAddr())

	// Deliver the current state first; the job may already be terminal.
	if st, err := s.store.GetStatus(r.Context(), jobID); err == nil {
		if err := conn.WriteJSON(st); err != nil {
			return
		}
		if st.State.Terminal() {
			return
		}
	}

	// Drain reads so client disconnects are noticed.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case st, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				s.logger.Warn("Failed to write to websocket", "jobID", jobID, "error", err)
				return
			}
			if st.State.Terminal() {
				return
			}
		case <-disconnected:
			s.logger.Info("Client disconnected", "jobID", jobID)
			return
		case <-r.Context().Done():
			return
		}
	}
}

// corsMiddleware allows embedded widgets on third-party sites to call the
// API directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
