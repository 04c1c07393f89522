package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/labcore/authcore"
	"github.com/labcore/authcore/middleware"
)

// maxRequestBodySize caps login, refresh and logout bodies.
const maxRequestBodySize = 16 << 10

// Engine is the subset of *authcore.Engine the HTTP boundary calls.
type Engine interface {
	Login(ctx context.Context, req authcore.LoginRequest) (*authcore.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.TokenPair, error)
	Logout(ctx context.Context, p *authcore.Principal, everywhere bool) error
	Validate(ctx context.Context, accessToken string) (*authcore.Principal, error)
	Allow(ctx context.Context, req authcore.RateRequest) authcore.RateDecision
}

// Options configures optional routes.
type Options struct {
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
	// Mount adds application routes behind rate limiting. Routes that
	// need a caller should use middleware.Authenticate.
	Mount func(r chi.Router)
	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxy bool
}

// Server serves the authentication endpoints.
type Server struct {
	engine Engine
	logger *zap.Logger
	now    func() time.Time
	opts   Options
}

// New returns a Server. A nil logger discards logs.
func New(engine Engine, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: engine, logger: logger, now: time.Now, opts: opts}
}

// Handler builds the router:
//
//	POST /login
//	POST /refresh
//	POST /logout   (bearer)
//	GET  /metrics  (when configured)
//
// Every route passes the rate limiter first.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	if s.opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.RateLimit(s.engine))
	r.Use(middleware.ClientInfo)
	r.Use(bodySizeLimitMiddleware)

	r.Post("/login", s.handleLogin)
	r.Post("/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s.engine))
		r.Post("/logout", s.handleLogout)
	})

	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	if s.opts.Mount != nil {
		s.opts.Mount(r)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}
