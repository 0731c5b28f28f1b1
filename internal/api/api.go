// Package api provides HTTP handlers and the main API server logic for SurveyPipe.
//
// It exposes the streaming chat endpoints, template and host CRUD, and the
// chat-history archive. The API integrates the flow engine, genai client,
// and store modules.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SurveyPipe/internal/flow"
	"github.com/BTreeMap/SurveyPipe/internal/genai"
	"github.com/BTreeMap/SurveyPipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configurable options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the SurveyPipe HTTP API.
type Server struct {
	st     store.Store
	engine *flow.Engine
	addr   string
	mux    *http.ServeMux
}

// NewServer creates a Server with all routes registered.
func NewServer(st store.Store, engine *flow.Engine, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{st: st, engine: engine, addr: cfg.Addr, mux: http.NewServeMux()}
	s.mux.HandleFunc("/chat/stream", s.chatStreamHandler)
	s.mux.HandleFunc("/chat/continue", s.chatContinueHandler)
	s.mux.HandleFunc("/chat/history", s.chatHistoryHandler)
	s.mux.HandleFunc("/chat/history/", s.chatHistoryDetailHandler)
	s.mux.HandleFunc("/templates", s.templatesHandler)
	s.mux.HandleFunc("/templates/", s.templateByIDHandler)
	s.mux.HandleFunc("/hosts", s.hostsHandler)
	s.mux.HandleFunc("/hosts/", s.hostByIDHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	return s
}

// Handler returns the server's HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts serving the API and blocks.
func (s *Server) ListenAndServe() error {
	slog.Info("SurveyPipe API listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// Run wires up the store, genai client, flow engine, and HTTP server from
// module options, then serves until the listener fails.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}

	var st store.Store
	var err error
	switch {
	case cfg.DSN == "":
		slog.Info("Run: no DSN configured, using in-memory store")
		st = store.NewInMemoryStore()
	case store.DetectDSNType(cfg.DSN) == "postgres":
		st, err = store.NewPostgresStore(storeOpts...)
	default:
		st, err = store.NewSQLiteStore(storeOpts...)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize genai client: %w", err)
	}

	engine := flow.NewEngine(st, client)
	server := NewServer(st, engine, apiOpts...)
	return server.ListenAndServe()
}
