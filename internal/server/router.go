package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/harness/internal/auth"
	"github.com/loykin/harness/internal/process"
	"github.com/loykin/harness/internal/supervisor"
)

// Supervisor is the part of *supervisor.Supervisor the router needs.
type Supervisor interface {
	Entries() []process.Status
	Entry(id int) (process.Status, bool)
	Healthy(id int) (bool, error)
	Terminate() supervisor.Report
}

// Router provides embeddable HTTP handlers for inspecting a running harness.
// Endpoints:
//
//	GET  {basePath}/entries             all entry snapshots
//	GET  {basePath}/entries/:id         one snapshot (400 malformed id, 404 unknown)
//	GET  {basePath}/entries/:id/health  {"id":..,"healthy":..}
//	POST {basePath}/terminate           runs the termination sweep, returns the report
//	GET  {basePath}/metrics             Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      Supervisor
	basePath string
	gatherer prometheus.Gatherer
	auth     *auth.Authenticator
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/entries, /api/terminate, ...
func NewRouter(sup Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), gatherer: prometheus.DefaultGatherer}
}

// WithGatherer serves metrics from g instead of the default registry.
func (r *Router) WithGatherer(g prometheus.Gatherer) *Router {
	if g != nil {
		r.gatherer = g
	}
	return r
}

// WithAuth requires every route to pass a. A nil a leaves the API open.
func (r *Router) WithAuth(a *auth.Authenticator) *Router {
	r.auth = a
	return r
}

// BasePath returns the sanitized mount point.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.auth != nil {
		group.Use(r.auth.GinAuth())
	}
	group.GET("/entries", r.handleEntries)
	group.GET("/entries/:id", r.handleEntry)
	group.GET("/entries/:id/health", r.handleHealth)
	group.POST("/terminate", r.handleTerminate)
	group.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	return g
}

// Server is a running inspection server.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Addr returns the bound listen address, useful with ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// Option customizes a standalone server.
type Option func(*serverOptions)

type serverOptions struct {
	tls  *tls.Config
	auth *auth.Authenticator
}

// WithTLS serves HTTPS using c. A nil c keeps plain HTTP.
func WithTLS(c *tls.Config) Option {
	return func(o *serverOptions) { o.tls = c }
}

// WithAuthenticator protects the API with a.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(o *serverOptions) { o.auth = a }
}

func collect(opts []Option) serverOptions {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func serve(addr string, h http.Handler, o serverOptions) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if o.tls != nil {
		ln = tls.NewListener(ln, o.tls)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// terminate may take a whole sweep
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return &Server{srv: srv, ln: ln}, nil
}

// NewServer starts a standalone gin server on addr.
func NewServer(addr, basePath string, sup Supervisor, opts ...Option) (*Server, error) {
	o := collect(opts)
	return serve(addr, NewRouter(sup, basePath).WithAuth(o.auth).Handler(), o)
}

// NewEchoServer starts an echo server on addr with the router mounted
// under basePath through echo.WrapHandler.
func NewEchoServer(addr, basePath string, sup Supervisor, opts ...Option) (*Server, error) {
	o := collect(opts)
	r := NewRouter(sup, basePath).WithAuth(o.auth)
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := echo.WrapHandler(r.Handler())
	base := r.BasePath()
	e.Any(base+"/*", h)
	if base != "" {
		e.Any(base, h)
	}
	return serve(addr, e, o)
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// HealthResp is the body of the health endpoint.
type HealthResp struct {
	ID      int  `json:"id"`
	Healthy bool `json:"healthy"`
}

func (r *Router) handleEntries(c *gin.Context) {
	sts := r.sup.Entries()
	if sts == nil {
		sts = []process.Status{}
	}
	writeJSON(c, http.StatusOK, sts)
}

func (r *Router) lookup(c *gin.Context) (int, bool) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return 0, false
	}
	return id, true
}

func (r *Router) handleEntry(c *gin.Context) {
	id, ok := r.lookup(c)
	if !ok {
		return
	}
	st, found := r.sup.Entry(id)
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: supervisor.ErrUnknownEntry.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleHealth(c *gin.Context) {
	id, ok := r.lookup(c)
	if !ok {
		return
	}
	healthy, err := r.sup.Healthy(id)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, HealthResp{ID: id, Healthy: healthy})
}

func (r *Router) handleTerminate(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Terminate())
}
