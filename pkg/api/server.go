package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lumen/pkg/billing"
	"github.com/platinummonkey/lumen/pkg/gateway"
	"github.com/platinummonkey/lumen/pkg/httputil"
	"github.com/platinummonkey/lumen/pkg/ledger"
	"github.com/platinummonkey/lumen/pkg/middleware"
	"github.com/platinummonkey/lumen/pkg/observability"
	"github.com/platinummonkey/lumen/pkg/projects"
)

// Generator runs one image generation
type Generator interface {
	Generate(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
}

// CheckoutBridge opens hosted Stripe sessions
type CheckoutBridge interface {
	Checkout(ctx context.Context, userID, email string, req billing.CheckoutRequest) (string, error)
	Portal(ctx context.Context, userID string) (string, error)
}

// SubscriptionReader returns a user's ledger record, creating it on first access
type SubscriptionReader interface {
	EnsureUser(ctx context.Context, userID string) (*ledger.SubscriptionRecord, error)
}

// ProjectLister lists a user's projects newest first
type ProjectLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*projects.ProjectRecord, error)
}

// ProjectDeleter removes a project and its images
type ProjectDeleter interface {
	Delete(ctx context.Context, userID, id string) error
}

// Dependencies are the collaborators the server routes to
type Dependencies struct {
	Authenticator *middleware.Authenticator
	Webhook       http.Handler
	Generator     Generator
	Bridge        CheckoutBridge
	Subscriptions SubscriptionReader
	Plans         *billing.Plans
	Projects      ProjectLister
	Deleter       ProjectDeleter

	// GenerateLimiter rate limits /api/generate per user when set
	GenerateLimiter middleware.Limiter

	MaxUploadBytes int64
	AllowedOrigins []string

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Server represents our API server
type Server struct {
	deps    Dependencies
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 20 << 20
	}

	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: deps.Logger.WithComponent("api"),
	}
	s.setupRoutes()

	// CORS sits outside the router so preflight requests never reach
	// method matching.
	s.handler = httputil.Chain(
		observability.PanicRecoveryMiddleware(deps.Logger),
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(deps.AllowedOrigins),
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "Not found")
	})

	if s.deps.Webhook != nil {
		s.router.Handle("/api/webhooks/stripe", s.deps.Webhook).Methods("POST")
	}
	s.router.HandleFunc("/api/models", s.listModels).Methods("GET")

	generate := http.Handler(http.HandlerFunc(s.generate))
	if s.deps.GenerateLimiter != nil {
		generate = middleware.RateLimit(s.deps.GenerateLimiter, s.deps.Logger)(generate)
	}
	s.router.Handle("/api/generate", s.authenticated(generate)).Methods("POST")

	s.router.Handle("/api/create-subscription-checkout", s.authenticated(http.HandlerFunc(s.createCheckout))).Methods("POST")
	s.router.Handle("/api/create-portal-session", s.authenticated(http.HandlerFunc(s.createPortal))).Methods("POST")
	s.router.Handle("/api/subscription", s.authenticated(http.HandlerFunc(s.getSubscription))).Methods("GET")
	s.router.Handle("/api/projects", s.authenticated(http.HandlerFunc(s.listProjects))).Methods("GET")
	s.router.Handle("/api/projects/{id}", s.authenticated(http.HandlerFunc(s.deleteProject))).Methods("DELETE")
}

// authenticated requires a verified session. Without an authenticator every
// request is rejected.
func (s *Server) authenticated(next http.Handler) http.Handler {
	if s.deps.Authenticator == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteUnauthorized(w, "Unauthorized")
		})
	}
	return s.deps.Authenticator.Handler(next)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// userID returns the authenticated user of r
func userID(r *http.Request) string {
	if identity := middleware.GetIdentity(r); identity != nil {
		return identity.UserID
	}
	return ""
}
