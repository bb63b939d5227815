package web

import (
	"bufio"
	"chat-relay/contract"
	"chat-relay/observability"
	"chat-relay/runtime"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Server exposes the websocket endpoint and the JSON API of the relay.
type Server struct {
	log           *slog.Logger
	service       contract.IChatService
	registry      contract.IRegistry
	submitter     contract.ConversationSubmitter
	censor        contract.Censor
	monitor       *observability.Monitor
	sessionConfig runtime.SessionConfig
	// originPatterns are the cross-origin hosts allowed to open a websocket.
	// Same-origin and Origin-less requests are always accepted.
	originPatterns []string

	// sessions outlive their request: they stop with baseCtx.
	baseCtx  context.Context
	sessions sync.WaitGroup
}

type Option func(*Server)

func WithCensor(censor contract.Censor) Option {
	return func(s *Server) { s.censor = censor }
}

func WithMonitor(monitor *observability.Monitor) Option {
	return func(s *Server) { s.monitor = monitor }
}

// WithOriginPatterns allows browsers served from other hosts, e.g. "app.example.com" or "*.example.com".
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

func NewServer(
	ctx context.Context,
	log *slog.Logger,
	service contract.IChatService,
	registry contract.IRegistry,
	submitter contract.ConversationSubmitter,
	sessionConfig runtime.SessionConfig,
	opts ...Option,
) *Server {
	s := &Server{
		log:           log,
		service:       service,
		registry:      registry,
		submitter:     submitter,
		sessionConfig: sessionConfig,
		baseCtx:       ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("POST /users/create", s.createUser)
	mux.HandleFunc("GET /users/{id}", s.getUser)
	mux.HandleFunc("GET /conversations/{room_id}", s.getConversations)
	mux.HandleFunc("GET /rooms", s.getRooms)
	mux.HandleFunc("GET /rooms/live", s.getLiveRooms)
	mux.HandleFunc("GET /rooms/{room_id}", s.getRoom)
	mux.HandleFunc("GET /search", s.search)
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /stats", s.stats)
	return s.logRequests(mux)
}

// WaitSessions blocks until every websocket session returned or the timeout elapsed.
func (s *Server) WaitSessions(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
