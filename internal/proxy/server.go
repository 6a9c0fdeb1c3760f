// Package proxy is the HTTP service between the chat client and an
// OpenAI-compatible provider. It streams one assistant message per turn as
// SSE-framed stream events.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"arclight/internal/models"
	"arclight/internal/stream"
)

// DefaultMaxBodyBytes leaves room for a handful of inline images.
const DefaultMaxBodyBytes = 32 << 20

type Options struct {
	// Models overrides upstream model listing when non-empty.
	Models            []models.ModelOption
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
	Logger            *slog.Logger
}

type Server struct {
	upstream Upstream
	models   []models.ModelOption
	limiter  *limiterPool
	maxBody  int64
	metrics  *metrics
	logger   *slog.Logger
	mux      *http.ServeMux
}

func New(upstream Upstream, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		upstream: upstream,
		models:   opts.Models,
		maxBody:  opts.MaxBodyBytes,
		metrics:  newMetrics(),
		logger:   logger.With("component", "proxy"),
		mux:      http.NewServeMux(),
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if opts.RequestsPerSecond > 0 {
		s.limiter = newLimiterPool(opts.RequestsPerSecond, opts.Burst)
	}

	s.mux.HandleFunc("POST /api/chat", s.metrics.instrument("chat", s.limit(s.handleChat)))
	s.mux.HandleFunc("GET /api/models", s.metrics.instrument("models", s.handleModels))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.handler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r) {
			s.metrics.rateLimited.Inc()
			s.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleModels serves the configured list, falling back to the upstream
// listing. Upstream failures degrade to an empty list.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if len(s.models) > 0 {
		s.writeJSON(w, http.StatusOK, s.models)
		return
	}
	opts, err := s.upstream.Models(r.Context())
	if err != nil {
		s.metrics.upstreamErrors.Inc()
		s.logger.Warn("model listing failed", "error", err)
		opts = []models.ModelOption{}
	}
	if opts == nil {
		opts = []models.ModelOption{}
	}
	s.writeJSON(w, http.StatusOK, opts)
}

func validateRequest(req stream.ChatRequest) error {
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}
	for i, m := range req.Messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			return fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
		for j, p := range m.Parts {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("message %d part %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req stream.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateRequest(req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	logger := s.logger.With("conversation_id", req.ConversationID, "model", req.Model)
	logger.Info("chat turn", "messages", len(req.Messages))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.metrics.activeStreams.Inc()
	defer s.metrics.activeStreams.Dec()

	sw := stream.NewWriter(w)
	emit := func(evs ...stream.Event) error {
		for _, ev := range evs {
			if err := sw.WriteEvent(ev); err != nil {
				return err
			}
			s.metrics.events.WithLabelValues(string(ev.Type)).Inc()
		}
		return nil
	}

	ctx := r.Context()
	if err := emit(stream.MessageStart("msg-" + uuid.NewString())); err != nil {
		logger.Debug("client went away", "error", err)
		return
	}

	up, err := s.upstream.Stream(ctx, req.Model, req.Messages)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.upstreamErrors.Inc()
		logger.Error("upstream stream failed", "error", err)
		_ = emit(stream.ErrorEvent(err.Error()))
		return
	}
	defer up.Close()

	var tr translator
	for up.Next() {
		if err := emit(tr.feed(up.Current())...); err != nil {
			logger.Debug("client went away", "error", err)
			return
		}
	}
	if err := up.Err(); err != nil {
		if ctx.Err() != nil {
			logger.Info("chat turn cancelled by client")
			return
		}
		s.metrics.upstreamErrors.Inc()
		logger.Error("upstream stream broke", "error", err)
		_ = emit(append(tr.close(), stream.ErrorEvent(err.Error()))...)
		return
	}

	_ = emit(append(tr.close(), stream.MessageEnd(tr.finish))...)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
