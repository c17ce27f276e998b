// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mscr-notifier/dispatch"
	"mscr-notifier/pkg/notifier"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Dispatcher runs digest passes.
type Dispatcher interface {
	RunScheduledPass(ctx context.Context, now time.Time) (*dispatch.Report, error)
	NotifyUser(ctx context.Context, userID uuid.UUID, now time.Time) error
}

// Server handles HTTP requests.
type Server struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// Config holds server configuration.
type Config struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/api/v1/notifications/{userID}", s.handleNotify)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // a pass sends every digest before responding
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

type pollResponse struct {
	Status  string `json:"status"`
	Cutoff  string `json:"cutoff"`
	Changes int    `json:"changes"`
	Digests int    `json:"digests"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	report, err := s.dispatcher.RunScheduledPass(r.Context(), s.now())
	if err != nil {
		if errors.Is(err, dispatch.ErrPassRunning) {
			s.logger.Info("Poll rejected, pass already running")
			http.Error(w, "Pass already running", http.StatusConflict)
			return
		}
		s.logger.Error("Scheduled pass failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, notifier.ErrUpstreamUnavailable) {
			status = http.StatusBadGateway
		}
		http.Error(w, "Pass failed", status)
		return
	}

	s.writeJSON(w, http.StatusOK, pollResponse{
		Status:  "completed",
		Cutoff:  report.Cutoff.Format(time.RFC3339),
		Changes: report.Changes,
		Digests: len(report.Results),
		Sent:    report.Sent(),
		Failed:  len(report.Failed()),
	})
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.PathValue("userID")
	userID, err := uuid.Parse(raw)
	if err != nil || userID == uuid.Nil {
		s.logger.Warn("Invalid user id", "user_id", raw)
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	err = s.dispatcher.NotifyUser(r.Context(), userID, s.now())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "user_id": userID.String()})
	case errors.Is(err, notifier.ErrNotFound):
		s.logger.Info("Notification requested for unknown user", "user_id", userID)
		http.Error(w, "User not found", http.StatusNotFound)
	case errors.Is(err, notifier.ErrNotModified):
		s.logger.Info("No changes for user", "user_id", userID)
		w.WriteHeader(http.StatusNotModified)
	case errors.Is(err, notifier.ErrUpstreamUnavailable), errors.Is(err, notifier.ErrSendFailure):
		s.logger.Error("Notification failed", "user_id", userID, "error", err)
		http.Error(w, "Notification failed", http.StatusBadGateway)
	default:
		s.logger.Error("Notification failed", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
