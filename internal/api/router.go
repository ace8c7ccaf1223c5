package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/api/handler"
	apimw "github.com/notifyhub/villa-dispatch/internal/api/middleware"
	"github.com/notifyhub/villa-dispatch/internal/auth"
	"github.com/notifyhub/villa-dispatch/internal/queue"
	"github.com/notifyhub/villa-dispatch/internal/service"
	"github.com/notifyhub/villa-dispatch/internal/stream"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Service       *service.DispatchService
	Hub           *stream.Hub
	Queue         *queue.PriorityQueue
	Gatherer      prometheus.Gatherer
	Tokens        apimw.TokenValidator
	DB            handler.Pinger
	FeedHeartbeat time.Duration
	Logger        *zap.Logger
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(d.Logger))

	// --- handler instances ---
	dh := handler.NewDispatchHandler(d.Service, d.Logger)
	nh := handler.NewNotificationHandler(d.Service, d.Logger)
	sh := handler.NewStaffHandler(d.Service, d.Logger)
	eh := handler.NewEventsHandler(d.Hub, d.FeedHeartbeat, d.Logger)
	mh := handler.NewMetricsHandler(d.Queue, d.Hub)
	hh := handler.NewHealthHandler(d.DB)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		authn := apimw.Authenticate(d.Tokens, d.Logger)

		// Producers and operators
		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Use(apimw.RequireRole(auth.RoleService, auth.RoleAdmin))

			r.Post("/dispatch", dh.Dispatch)
			r.Get("/dispatches/{id}", dh.GetDispatch)

			r.Get("/notifications", nh.List)
			r.Get("/notifications/{id}", nh.GetByID)
			r.Delete("/notifications/{id}", nh.Cancel)

			// JSON metrics snapshot
			r.Get("/metrics", mh.GetMetrics)
		})

		// The mobile app; staff tokens only reach their own routes.
		r.Route("/staff/{staffID}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Use(apimw.RequireStaffAccess)

				r.Post("/devices", sh.RegisterDevice)
				r.Get("/devices", sh.ListDevices)
				r.Delete("/devices/{token}", sh.UnregisterDevice)

				// read-all must be registered before {id} so chi does not treat
				// it as an item id.
				r.Get("/inbox", sh.ListInbox)
				r.Post("/inbox/read-all", sh.MarkAllRead)
				r.Post("/inbox/{id}/read", sh.MarkRead)
			})

			// The only route that takes a token from the query string.
			r.With(apimw.AuthenticateStream(d.Tokens, d.Logger), apimw.RequireStaffAccess).
				Get("/events", eh.Stream)
		})
	})

	return r
}
