package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"gradi/internal/logging"
	"gradi/internal/services"
	"gradi/internal/stage"
	"gradi/internal/workflow"
)

const maxCorrectionBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || d == nil {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/exams", authMiddleware(token, srv.handleExams))
	mux.HandleFunc("/exams/", authMiddleware(token, srv.handleExams))
	mux.HandleFunc("/fallback", authMiddleware(token, srv.handleFallback))
	mux.HandleFunc("/fallback/", authMiddleware(token, srv.handleFallback))
	srv.handler = mux
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.log(), "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check api_bind and port availability"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// StageReport is the readiness of one workflow stage.
type StageReport struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// QueueReport is the approximate depth of one queue.
type QueueReport struct {
	Visible  int64 `json:"visible"`
	InFlight int64 `json:"inFlight"`
	Delayed  int64 `json:"delayed"`
}

// WorkflowReport summarises the worker loop.
type WorkflowReport struct {
	LastError     string                   `json:"lastError,omitempty"`
	LastMessage   *workflow.MessageSummary `json:"lastMessage,omitempty"`
	Outcomes      map[string]int           `json:"outcomes"`
	Queues        map[string]QueueReport   `json:"queues"`
	ActiveBatches []string                 `json:"activeBatches"`
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status      string         `json:"status"`
	Running     bool           `json:"running"`
	LoadedExams []string       `json:"loadedExams"`
	Workflow    WorkflowReport `json:"workflow"`
	Stages      []StageReport  `json:"stages"`
}

// ExamReport is one entry of GET /exams.
type ExamReport struct {
	ExamCode     string `json:"examCode"`
	StudentCount int    `json:"studentCount"`
	HasMetadata  bool   `json:"hasMetadata"`
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())

	payload := HealthReport{
		Status:      "ok",
		Running:     status.Running,
		LoadedExams: []string{},
		Workflow: WorkflowReport{
			LastError:     status.Workflow.LastError,
			LastMessage:   status.Workflow.LastMessage,
			Outcomes:      status.Workflow.Outcomes,
			Queues:        make(map[string]QueueReport, len(status.Workflow.QueueStats)),
			ActiveBatches: status.Workflow.ActiveBatches,
		},
		Stages: make([]StageReport, 0, len(status.Workflow.StageHealth)),
	}
	if payload.Workflow.ActiveBatches == nil {
		payload.Workflow.ActiveBatches = []string{}
	}
	for name, stats := range status.Workflow.QueueStats {
		payload.Workflow.Queues[name] = QueueReport{Visible: stats.Visible, InFlight: stats.InFlight, Delayed: stats.Delayed}
	}
	for _, exam := range status.LoadedExams {
		if exam.StudentCount > 0 {
			payload.LoadedExams = append(payload.LoadedExams, exam.ExamCode)
		}
	}
	for _, h := range status.Workflow.StageHealth {
		payload.Stages = append(payload.Stages, StageReport{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	if ready, _ := stage.AllReady(status.Workflow.StageHealth); !ready {
		payload.Status = "degraded"
	}
	if !status.Running {
		payload.Status = "stopped"
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleExams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summaries := s.daemon.state.Exams()
	exams := make([]ExamReport, 0, len(summaries))
	for _, exam := range summaries {
		exams = append(exams, ExamReport{
			ExamCode:     exam.ExamCode,
			StudentCount: exam.StudentCount,
			HasMetadata:  exam.HasMetadata,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"exams": exams})
}

func (s *apiServer) handleFallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req CorrectionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCorrectionBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	result, err := s.daemon.Correct(r.Context(), req)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, services.ErrValidation) {
			code = http.StatusBadRequest
		}
		s.writeError(w, code, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Warn("api response encode failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_encode_failed"),
		)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s == nil || s.logger == nil {
		return logging.NewNop()
	}
	return s.logger
}
