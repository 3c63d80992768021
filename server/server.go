// Package server exposes the loyalty engine to the surrounding store systems
// over HTTP. The transport is an internal API: callers authenticate with
// service-issued bearer tokens and receive structured error kinds, which the
// storefront translates into user-facing messages.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"loyaltyd/accrual"
	"loyaltyd/cart"
	"loyaltyd/events"
	"loyaltyd/ledger"
	"loyaltyd/observability"
	"loyaltyd/rewards"
	"loyaltyd/stats"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB         *gorm.DB
	AuthSecret []byte
	RateLimit  float64
	RateBurst  int
	Emitter    events.Emitter

	// Program knobs. Zero values keep the component defaults.
	PointsPerDollar int64
	RedemptionTTL   time.Duration
	Cooldown        time.Duration
	ReviewPoints    int64
	ReviewMinRating int
}

// Server bundles the engine components behind the HTTP API.
type Server struct {
	DB            *gorm.DB
	Ledger        *ledger.Ledger
	Catalog       *rewards.Catalog
	Workflow      *rewards.Workflow
	Calculator    *cart.Calculator
	Accrual       *accrual.Accrual
	Notifications *events.NotificationStore
	Stats         *stats.Collector

	authSecret []byte
	metrics    *observability.EngineMetrics
	limiter    *rate.Limiter
	router     http.Handler

	// Now is injectable for tests.
	Now func() time.Time
}

// New wires the engine components and builds the router.
func New(cfg Config) *Server {
	if cfg.Emitter == nil {
		cfg.Emitter = events.NopEmitter{}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 50
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 100
	}

	lg := ledger.New(cfg.DB, cfg.Emitter)
	catalog := rewards.NewCatalog(cfg.DB)
	workflow := rewards.NewWorkflow(cfg.DB, lg, cfg.Emitter)
	calculator := cart.NewCalculator(cfg.DB, lg, catalog, workflow, cfg.Emitter)
	accruals := accrual.New(cfg.DB, lg)

	if cfg.RedemptionTTL > 0 {
		workflow.TTL = cfg.RedemptionTTL
	}
	if cfg.Cooldown > 0 {
		workflow.Cooldown = cfg.Cooldown
	}
	if cfg.PointsPerDollar > 0 {
		calculator.PointsPerDollar = cfg.PointsPerDollar
	}
	if cfg.ReviewPoints > 0 {
		accruals.ReviewPoints = cfg.ReviewPoints
	}
	if cfg.ReviewMinRating > 0 {
		accruals.ReviewMinRating = cfg.ReviewMinRating
	}

	srv := &Server{
		DB:            cfg.DB,
		Ledger:        lg,
		Catalog:       catalog,
		Workflow:      workflow,
		Calculator:    calculator,
		Accrual:       accruals,
		Notifications: events.NewNotificationStore(cfg.DB),
		Stats:         stats.NewCollector(cfg.DB),
		authSecret:    cfg.AuthSecret,
		metrics:       observability.Metrics(),
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		Now:           time.Now,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(withRateLimit(s.limiter))
	r.Use(withMetrics(s.metrics))

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(Authenticate(s.authSecret))

		api.Group(func(rw chi.Router) {
			rw.Use(RequireRole(RoleCustomer, RoleService, RoleAdmin))
			rw.Post("/accounts", s.CreateAccount)
			rw.Get("/accounts/{id}", s.GetAccount)
			rw.Get("/accounts/{id}/transactions", s.ListTransactions)
			rw.Get("/accounts/{id}/rewards", s.ListAvailableRewards)
			rw.Get("/accounts/{id}/redemptions", s.ListRedemptions)
			rw.Get("/accounts/{id}/notifications", s.ListNotifications)
			rw.Get("/tiers", s.ListTiers)

			rw.Post("/accounts/{id}/redeem", s.RedeemPoints)
			rw.Post("/accounts/{id}/rewards/{rewardID}", s.RedeemReward)
			rw.Post("/carts/{id}/points-discount", s.ApplyPointsDiscount)
			rw.Post("/carts/{id}/reward-discount", s.ApplyRewardDiscount)
			rw.Delete("/carts/{id}/discounts", s.RemoveDiscount)
			rw.Get("/carts/{id}/total", s.ComputeTotal)
		})

		api.Group(func(svc chi.Router) {
			svc.Use(RequireRole(RoleService, RoleAdmin))
			svc.Post("/accounts/{id}/earn", s.Earn)
			svc.Post("/carts/{id}/checkout", s.Checkout)
			svc.Post("/redemptions/{id}/used", s.MarkRedemptionUsed)
			svc.Post("/hooks/order-delivered", s.OrderDelivered)
			svc.Post("/hooks/review-posted", s.ReviewPosted)
			svc.Post("/hooks/referral-completed", s.ReferralCompleted)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(RequireRole(RoleAdmin))
			admin.Post("/accounts/{id}/adjust", s.Adjust)
			admin.Post("/redemptions/{id}/cancel", s.CancelRedemption)
			admin.Post("/sweep", s.Sweep)
			admin.Get("/stats", s.GetStats)
		})
	})

	return r
}
