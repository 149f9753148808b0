package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/user"
	"runtime"
	"strings"

	"github.com/agentround/agentround/internal/app"
)

// ErrServerClosed is returned when the server is closed.
var ErrServerClosed = http.ErrServerClosed

// ParseHostURL parses a host URL into a [url.URL].
func ParseHostURL(host string) (*url.URL, error) {
	proto, addr, ok := strings.Cut(host, "://")
	if !ok {
		return nil, fmt.Errorf("invalid host format: %s", host)
	}

	var basePath string
	if proto == "tcp" {
		parsed, err := url.Parse("tcp://" + addr)
		if err != nil {
			return nil, fmt.Errorf("invalid tcp address: %v", err)
		}
		addr = parsed.Host
		basePath = parsed.Path
	}
	return &url.URL{
		Scheme: proto,
		Host:   addr,
		Path:   basePath,
	}, nil
}

// DefaultHost returns the default server host.
func DefaultHost() string {
	sock := "agentround.sock"
	usr, err := user.Current()
	if err == nil && usr.Uid != "" {
		sock = fmt.Sprintf("agentround-%s.sock", usr.Uid)
	}
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("npipe:////./pipe/%s", sock)
	}
	return fmt.Sprintf("unix:///tmp/%s", sock)
}

// Server exposes an [app.App] over HTTP on a TCP address, a Unix socket or
// a Windows named pipe.
type Server struct {
	Addr    string
	network string

	h  *http.Server
	ln net.Listener

	app    *app.App
	logger *slog.Logger

	// ctx is the base of every request context. It is cancelled on shutdown
	// so open event streams end.
	ctx    context.Context
	cancel context.CancelFunc
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// NewServer returns a server for a on the given network and address.
func NewServer(a *app.App, network, address string) *Server {
	s := new(Server)
	s.Addr = address
	s.network = network
	s.app = a
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var p http.Protocols
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	s.h = &http.Server{
		Protocols: &p,
		Handler:   s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	if network == "tcp" {
		s.h.Addr = address
	}
	return s
}

// Handler returns the routed API with its middleware.
func (s *Server) Handler() http.Handler {
	c := &controllerV1{Server: s}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", c.handleGetHealth)
	mux.HandleFunc("GET /v1/version", c.handleGetVersion)
	mux.HandleFunc("POST /v1/control", c.handlePostControl)
	mux.HandleFunc("GET /v1/models", c.handleGetModels)
	mux.HandleFunc("GET /v1/events", c.handleGetEvents)
	mux.HandleFunc("GET /v1/sessions", c.handleGetSessions)
	mux.HandleFunc("POST /v1/sessions", c.handlePostSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", c.handleGetSession)
	mux.HandleFunc("PATCH /v1/sessions/{id}", c.handlePatchSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", c.handleDeleteSession)
	mux.HandleFunc("PUT /v1/sessions/{id}/models", c.handlePutSessionModels)
	mux.HandleFunc("POST /v1/sessions/{id}/start", c.handlePostSessionStart)
	mux.HandleFunc("POST /v1/sessions/{id}/continue", c.handlePostSessionContinue)
	mux.HandleFunc("POST /v1/sessions/{id}/end", c.handlePostSessionEnd)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", c.handleGetSessionStream)
	mux.HandleFunc("GET /v1/sessions/{id}/export", c.handleGetSessionExport)
	mux.HandleFunc("GET /v1/templates", c.handleGetTemplates)
	mux.HandleFunc("POST /v1/templates/reset", c.handlePostTemplatesReset)
	mux.HandleFunc("GET /v1/templates/{kind}", c.handleGetTemplateKind)
	mux.HandleFunc("PUT /v1/templates/{kind}/{id}", c.handlePutTemplate)
	mux.HandleFunc("DELETE /v1/templates/{kind}/{id}", c.handleDeleteTemplate)
	return s.loggingHandler(corsHandler(mux))
}

// Serve accepts incoming connections on the listener.
func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	return s.h.Serve(ln)
}

// ListenAndServe starts the server and begins accepting connections.
func (s *Server) ListenAndServe() error {
	if s.ln != nil {
		return fmt.Errorf("server already started")
	}
	ln, err := listen(s.network, s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) closeListener() {
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
}

// Close force close all listeners and connections.
func (s *Server) Close() error {
	defer func() { s.closeListener() }()
	s.cancel()
	return s.h.Close()
}

// Shutdown gracefully shuts down the server. Open event streams are ended,
// other requests are allowed to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	defer func() { s.closeListener() }()
	s.cancel()
	return s.h.Shutdown(ctx)
}

func (s *Server) logDebug(r *http.Request, msg string, args ...any) {
	if s.logger != nil {
		s.logger.With(
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.String("remote_addr", r.RemoteAddr),
		).Debug(msg, args...)
	}
}

func (s *Server) logError(r *http.Request, msg string, args ...any) {
	if s.logger != nil {
		s.logger.With(
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.String("remote_addr", r.RemoteAddr),
		).Error(msg, args...)
	}
}
