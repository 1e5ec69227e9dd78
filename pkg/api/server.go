package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/branches"
	"github.com/platinummonkey/portalfs/pkg/clipboard"
	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/middleware"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/observability"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/sharelinks"
	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/tags"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// APIPrefix is where every route is mounted
const APIPrefix = "/api/v1"

// DefaultMaxUploadBytes bounds file uploads when Options.MaxUploadBytes is unset
const DefaultMaxUploadBytes int64 = 512 << 20

// Services are the domain services the HTTP surface exposes
type Services struct {
	Nodes       *nodes.Service
	Branches    *branches.Registry
	Permissions *permissions.Service
	Resolver    *permissions.Resolver
	Tags        *tags.Service
	Clipboard   *clipboard.Service
	ShareLinks  *sharelinks.Service
	Jobs        *jobs.Engine
	Objects     storage.ObjectStore
}

// Options tune the HTTP surface
type Options struct {
	// UserHeader is the trusted header carrying the caller's user id
	UserHeader string

	// Verifier validates bearer tokens. Nil disables bearer authentication.
	Verifier middleware.TokenVerifier

	// ShareLinkLimiter throttles the public share-link routes per token
	ShareLinkLimiter middleware.Limiter

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// ServiceName names server spans
	ServiceName string

	MaxUploadBytes int64

	// AllowedOrigins enables CORS when non-empty
	AllowedOrigins []string

	// PasswordCost is the bcrypt cost for share-link passwords
	PasswordCost int

	IDs vfs.IDGenerator
}

// Server is the portalfs HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates the API server with every route registered
func NewServer(services Services, opts Options) *Server {
	if opts.UserHeader == "" {
		opts.UserHeader = middleware.DefaultUserHeader
	}
	if opts.ShareLinkLimiter == nil {
		opts.ShareLinkLimiter = middleware.NewRateLimiter(nil, nil)
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "portalfs"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.IDs == nil {
		opts.IDs = vfs.UUIDGenerator{}
	}

	s := &Server{router: mux.NewRouter()}
	s.setupRoutes(services, opts)

	chain := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.RequestIDMiddleware,
	}
	if len(opts.AllowedOrigins) > 0 {
		chain = append(chain, httputil.CORSMiddleware(opts.AllowedOrigins))
	}
	s.handler = httputil.Chain(chain...)(s.router)
	return s
}

func (s *Server) setupRoutes(services Services, opts Options) {
	s.router.Use(observability.TracingMiddleware(opts.ServiceName))
	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	s.router.Use(observability.LoggingMiddleware(opts.Logger))

	api := s.router.PathPrefix(APIPrefix).Subrouter()
	authz := newAuthorizer(services.Resolver)

	// Public share-link routes carry no caller identity
	public := api.PathPrefix("/s").Subrouter()
	public.Use(middleware.RateLimitByVar(opts.ShareLinkLimiter, "token"))
	NewPublicShareHandlers(services.ShareLinks, services.Nodes).RegisterRoutes(public)

	private := api.NewRoute().Subrouter()
	private.Use(middleware.Identity(opts.UserHeader, opts.Verifier))

	registrars := []RouteRegistrar{
		NewTreeHandlers(services.Nodes, services.Permissions, authz, opts.MaxUploadBytes),
		NewBranchHandlers(services.Branches),
		NewPermissionHandlers(services.Permissions, services.Resolver, authz),
		NewTagHandlers(services.Tags, authz),
		NewClipboardHandlers(services.Clipboard, services.Jobs, authz),
		NewShareLinkHandlers(services.ShareLinks, authz, opts.PasswordCost),
		NewJobHandlers(services.Jobs, services.Objects, authz, opts.IDs, opts.MaxUploadBytes),
	}
	for _, registrar := range registrars {
		registrar.RegisterRoutes(private)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
