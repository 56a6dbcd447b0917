// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/profile-engine/internal/engine"
	"github.com/sells-group/profile-engine/internal/intake"
	"github.com/sells-group/profile-engine/internal/model"
)

// Server wraps the engine behind a chi router.
type Server struct {
	engine *engine.Engine
	router chi.Router
}

// New builds the router.
func New(eng *engine.Engine) *Server {
	s := &Server{engine: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1/profiles/{profileID}", func(r chi.Router) {
		r.Post("/observations", s.handleObservations)
		r.Post("/messages", s.handleMessage)
		r.Get("/progress", s.handleProgress)
		r.Get("/intake/next", s.handleIntakeNext)
		r.Post("/intake/answer", s.handleIntakeAnswer)
		r.Get("/intake/idle", s.handleIntakeIdle)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until the context is cancelled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type observationsRequest struct {
	SessionID    string              `json:"session_id"`
	OpenEnded    bool                `json:"open_ended"`
	Observations []model.Observation `json:"observations"`
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")

	var req observationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Observations) == 0 {
		writeError(w, http.StatusBadRequest, "observations required")
		return
	}

	result, err := s.engine.Apply(r.Context(), profileID, req.Observations,
		engine.ApplyMeta{SessionID: req.SessionID, OpenEnded: req.OpenEnded})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	result, err := s.engine.HandleMessage(r.Context(), profileID, req.SessionID, req.Message)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")

	tp, err := s.engine.Progress(r.Context(), profileID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tp)
}

type intakeNextResponse struct {
	Done   bool        `json:"done"`
	Screen *screenView `json:"screen,omitempty"`
	Phase  string      `json:"phase"`
}

type screenView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Kind    string   `json:"kind"`
	Field   string   `json:"field,omitempty"`
	Options []string `json:"options,omitempty"`
}

func (s *Server) handleIntakeNext(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")

	screen, state, err := s.engine.NextScreen(r.Context(), profileID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := intakeNextResponse{Done: screen == nil, Phase: string(state.Phase)}
	if screen != nil {
		p, err := s.engine.ProfileForView(r.Context(), profileID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		resp.Screen = toScreenView(screen, p)
	}
	writeJSON(w, http.StatusOK, resp)
}

type intakeAnswerRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

type intakeAnswerResponse struct {
	Accepted bool        `json:"accepted"`
	Reply    string      `json:"reply,omitempty"`
	Done     bool        `json:"done"`
	Screen   *screenView `json:"screen,omitempty"`
}

func (s *Server) handleIntakeAnswer(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")

	var req intakeAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.engine.AnswerScreen(r.Context(), profileID, req.SessionID, req.Input)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := intakeAnswerResponse{Accepted: res.Accepted, Reply: res.Reply, Done: res.Done}
	if res.Next != nil {
		p, err := s.engine.ProfileForView(r.Context(), profileID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		resp.Screen = toScreenView(res.Next, p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIntakeIdle(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")

	idle, err := s.engine.IntakeIdle(r.Context(), profileID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"idle": idle})
}

func toScreenView(sc *intake.Screen, p *model.Profile) *screenView {
	return &screenView{
		ID:      sc.ID,
		Prompt:  sc.EffectivePrompt(p),
		Kind:    string(sc.Kind),
		Field:   sc.Field,
		Options: sc.EffectiveOptions(p),
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent write conflict")
	case errors.Is(err, model.ErrExtractionUnavailable):
		writeError(w, http.StatusServiceUnavailable, "extraction unavailable")
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
