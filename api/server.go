package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"callpipe/logger"
	"callpipe/metrics"
	"callpipe/models"
	"callpipe/pipeline"
	"callpipe/store"

	"github.com/gorilla/websocket"
)

// Ingester runs the ingest stage.
type Ingester interface {
	Run(ctx context.Context, source string, body []byte) (pipeline.Result, error)
}

// StageRunner runs the transform or route stage.
type StageRunner interface {
	Run(ctx context.Context, payload string) (pipeline.Result, error)
}

// CallQuery reads routed calls back.
type CallQuery interface {
	Get(ctx context.Context, source, callID string) (models.NormalizedCall, error)
	List(ctx context.Context, source string, limit int) ([]models.NormalizedCall, error)
}

// TokenVerifier abstracts OIDC token verification.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) error
}

// Options tune the server. Zero values pick defaults.
type Options struct {
	MaxBodyBytes int64
	// Ready reports whether downstream dependencies are reachable.
	Ready func(ctx context.Context) error
}

const (
	defaultMaxBody   = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

type Server struct {
	mux       *http.ServeMux
	hub       *Hub
	ingest    Ingester
	transform StageRunner
	route     StageRunner
	calls     CallQuery
	verifier  TokenVerifier
	opts      Options
}

// NewServer wires the HTTP surface. verifier may be nil to disable auth.
func NewServer(in Ingester, tr, rt StageRunner, q CallQuery, v TokenVerifier, hub *Hub, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{mux: http.NewServeMux(), hub: hub, ingest: in, transform: tr, route: rt, calls: q, verifier: v, opts: opts}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/ingest", s.withAuth(s.handleIngest))
	s.mux.HandleFunc("/api/ingest/{source}", s.withAuth(s.handleIngest))
	s.mux.HandleFunc("/api/transform", s.withAuth(s.handleStage(s.transform)))
	s.mux.HandleFunc("/api/route", s.withAuth(s.handleStage(s.route)))
	s.mux.HandleFunc("/api/calls", s.withAuth(s.handleListCalls))
	s.mux.HandleFunc("/api/calls/{source}/{callId}", s.withAuth(s.handleGetCall))
	s.mux.HandleFunc("/ws/calls", s.handleWS)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.Handle("/metrics", metrics.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Hub returns the live-feed hub.
func (s *Server) Hub() *Hub { return s.hub }

// withAuth simple bearer token extraction passed to verifier.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.verifier == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" || len(auth) < 8 || auth[:7] != "Bearer " {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := s.verifier.Verify(r.Context(), auth[7:]); err != nil {
			logger.Error("token verification failed", err, logger.FieldKV("path", r.URL.Path))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// readBody enforces method, content type and size. It writes the error
// response itself and returns ok=false on failure.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResult(w, pipeline.Result{Status: http.StatusMethodNotAllowed, Message: "method not allowed"})
		return nil, false
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			writeResult(w, pipeline.Result{Status: http.StatusUnsupportedMediaType, Message: "content type must be application/json"})
			return nil, false
		}
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResult(w, pipeline.Result{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"})
			return nil, false
		}
		writeResult(w, pipeline.Result{Status: http.StatusBadRequest, Message: "bad request"})
		return nil, false
	}
	return body, true
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	res, err := s.ingest.Run(r.Context(), r.PathValue("source"), body)
	if err != nil {
		logger.Error("ingest failed", err, logger.FieldKV("status", res.Status))
	}
	writeResult(w, res)
}

func (s *Server) handleStage(stage StageRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		res, err := stage.Run(r.Context(), string(body))
		if err != nil {
			logger.Error("stage failed", err, logger.FieldKV("path", r.URL.Path), logger.FieldKV("status", res.Status))
		}
		writeResult(w, res)
	}
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit = ParseLimit(v, defaultListLimit)
	}
	calls, err := s.calls.List(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		logger.Error("list calls failed", err)
		http.Error(w, "fetch failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	call, err := s.calls.Get(r.Context(), r.PathValue("source"), r.PathValue("callId"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "call not found", http.StatusNotFound)
	case err != nil:
		logger.Error("get call failed", err)
		http.Error(w, "fetch failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, call)
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// handleWS streams routed calls. Client messages are read and dropped so
// closes are noticed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.verifier != nil {
		token := r.URL.Query().Get("token")
		if token == "" || s.verifier.Verify(r.Context(), token) != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", err)
		return
	}
	s.hub.Add(conn)
	defer s.hub.Remove(conn)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// Health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readiness endpoint
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			logger.Error("readiness check failed", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeResult(w http.ResponseWriter, res pipeline.Result) {
	if res.Status == 0 {
		res.Status = http.StatusInternalServerError
	}
	writeJSON(w, res.Status, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ParseLimit parses a positive list limit, capped at maxListLimit.
func ParseLimit(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
