package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/bus"
	"github.com/thatsimonsguy/pump-controller/internal/config"
	"github.com/thatsimonsguy/pump-controller/internal/controller"
	"github.com/thatsimonsguy/pump-controller/internal/operation"
	"github.com/thatsimonsguy/pump-controller/internal/runner"
	"github.com/thatsimonsguy/pump-controller/internal/scheduler"
)

type Server struct {
	session    *controller.Session
	config     *config.Config
	wsUpgrader websocket.Upgrader
}

type OperationRequest struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

type OperationResponse struct {
	RunID     string `json:"run_id"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

type ScheduleRequest struct {
	IntervalMinutes int `json:"interval_minutes"`
	DurationSeconds int `json:"duration_seconds"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(session *controller.Session, cfg *config.Config) *Server {
	return &Server{
		session: session,
		config:  cfg,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/operations/", s.handleOperations)
	mux.HandleFunc("/api/schedule", s.handleSchedule)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ports", s.handlePorts)
	mux.HandleFunc("/api/events", s.handleEvents)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled and then shuts the listener down.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Starting REST API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/operations/"), "/")
	if name == "stop" {
		s.stopOperation(w)
		return
	}

	op, err := operation.Parse(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, controller.StatusMessage(err))
		return
	}

	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.DurationSeconds < 0 {
		s.writeError(w, http.StatusBadRequest, "duration_seconds must not be negative")
		return
	}
	override := time.Duration(req.DurationSeconds * float64(time.Second))

	id, err := s.session.StartOperation(op, override)
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	log.Info().Str("operation", string(op)).Str("run_id", id).Msg("Operation started via API")
	s.writeJSON(w, http.StatusAccepted, OperationResponse{
		RunID:     id,
		Operation: string(op),
		Status:    fmt.Sprintf("%s started", op),
	})
}

func (s *Server) stopOperation(w http.ResponseWriter) {
	if err := s.session.RequestStop(); err != nil {
		s.writeRejection(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, StatusResponse{Status: "Stop requested"})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.session.Status().Schedule)
	case http.MethodPut:
		s.startSchedule(w, r)
	case http.MethodDelete:
		s.session.StopSchedule()
		log.Info().Msg("Schedule stopped via API")
		s.writeJSON(w, http.StatusOK, s.session.Status().Schedule)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) startSchedule(w http.ResponseWriter, r *http.Request) {
	req := ScheduleRequest{
		IntervalMinutes: s.config.ScheduledSettings.DefaultIntervalMinutes,
		DurationSeconds: s.config.ScheduledSettings.DefaultDurationSeconds,
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if err := s.session.StartSchedule(req.IntervalMinutes, req.DurationSeconds); err != nil {
		s.writeRejection(w, err)
		return
	}

	log.Info().
		Int("interval", req.IntervalMinutes).
		Int("duration", req.DurationSeconds).
		Msg("Schedule started via API")
	s.writeJSON(w, http.StatusOK, s.session.Status().Schedule)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ports, err := bus.ListPorts()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list serial ports")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ports)
}

func (s *Server) writeRejection(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, runner.ErrOperationInProgress),
		errors.Is(err, runner.ErrNotRunning),
		errors.Is(err, scheduler.ErrScheduleConflict),
		errors.Is(err, scheduler.ErrAlreadyActive):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		status = http.StatusBadRequest
	}
	s.writeError(w, status, controller.StatusMessage(err))
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
