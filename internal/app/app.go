// Package app wires repositories, services and HTTP handlers into a runnable
// API.
package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/nolabru/psiconnect/internal/config"
	associationHandler "github.com/nolabru/psiconnect/internal/handler/association"
	cascadeHandler "github.com/nolabru/psiconnect/internal/handler/cascade"
	"github.com/nolabru/psiconnect/internal/handler/health"
	invitationHandler "github.com/nolabru/psiconnect/internal/handler/invitation"
	licenseHandler "github.com/nolabru/psiconnect/internal/handler/license"
	"github.com/nolabru/psiconnect/internal/middleware"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/internal/router"
	"github.com/nolabru/psiconnect/internal/service/association"
	"github.com/nolabru/psiconnect/internal/service/audit"
	"github.com/nolabru/psiconnect/internal/service/cascade"
	"github.com/nolabru/psiconnect/internal/service/connection"
	"github.com/nolabru/psiconnect/internal/service/event"
	"github.com/nolabru/psiconnect/internal/service/invitation"
	"github.com/nolabru/psiconnect/internal/service/license"
	"github.com/nolabru/psiconnect/pkg/auth"
	"github.com/nolabru/psiconnect/pkg/logger"
	"github.com/nolabru/psiconnect/pkg/metrics"
)

type Deps struct {
	Config   *config.Config
	Repos    repository.Set
	Logger   *logger.Logger
	Registry *prometheus.Registry
	// Checks feed the readiness probe.
	Checks map[string]health.Pinger
}

type API struct {
	Router      *router.Router
	Tokens      *auth.JWTService
	Metrics     *metrics.Metrics
	Store       *association.Store
	Connections *connection.Service
	Coordinator *cascade.Coordinator
	Invitations *invitation.Service
	Licenses    *license.Service
}

func NewAPI(d Deps) (*API, error) {
	cfg := d.Config
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}

	m := metrics.NewMetrics("psiconnect", d.Registry)
	events := event.NewService(d.Repos.Outbox)
	auditor := audit.NewService(d.Repos.Audit)

	store := association.NewStore(d.Repos.Associations)
	licenses := license.NewService(d.Repos.Licenses, d.Repos.Plans, d.Repos.Tx, events, auditor,
		license.WithMetrics(m),
		license.WithPlanCacheTTL(cfg.License.PlanCacheTTL),
	)
	conn := connection.NewService(store, d.Repos.Tx, events, auditor, d.Logger, m)
	coordinator := cascade.NewCoordinator(store, conn, licenses, d.Repos.Actors, d.Repos.Tx, events, auditor, d.Logger, m)
	conn.Subscribe(coordinator)
	invitations := invitation.NewService(d.Repos.Invitations, d.Repos.Actors, store, d.Repos.Tx, events, auditor,
		invitation.WithTTL(cfg.Invitation.TTL),
	)

	tokens := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)

	routerConfig := router.RouterConfig{
		Mode:          cfg.Server.Mode,
		MetricsPrefix: "psiconnect_http",
		Registry:      d.Registry,
	}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
		routerConfig.RateBurst = cfg.RateLimit.Burst
	}

	r, err := router.NewRouter(
		middleware.NewAuthMiddleware(tokens),
		health.NewHandler(d.Checks),
		routerConfig,
		associationHandler.NewHandler(store, conn),
		invitationHandler.NewHandler(invitations),
		licenseHandler.NewHandler(licenses, coordinator),
		cascadeHandler.NewHandler(coordinator),
	)
	if err != nil {
		return nil, err
	}

	return &API{
		Router:      r,
		Tokens:      tokens,
		Metrics:     m,
		Store:       store,
		Connections: conn,
		Coordinator: coordinator,
		Invitations: invitations,
		Licenses:    licenses,
	}, nil
}
