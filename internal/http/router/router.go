package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/dig"

	"parcelflow/internal/http/handlers"
	mw "parcelflow/internal/http/middleware"
	"parcelflow/internal/http/middleware/ratelimit"
	"parcelflow/internal/logx"
)

const requestTimeout = 5 * time.Second

// Params are the router dependencies.
type Params struct {
	dig.In

	Base       *handlers.Handlers
	Deliveries *handlers.DeliveryHandler
	Drivers    *handlers.DriverHandler
	Subscribe  *handlers.SubscribeHandler
	RateLimit  *ratelimit.Middleware `optional:"true"`
	Metrics    *mw.HTTPMetrics       `optional:"true"`
	Logger     logx.Logger
}

// New constructs a chi-based http.Handler with base middleware and routes.
// The websocket route sits outside the request timeout; mutating routes go through the rate limiter.
func New(p Params) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Observability(p.Logger, p.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/ping", p.Base.Ping)
	r.Method(http.MethodHead, "/healthcheck", http.HandlerFunc(p.Base.HealthcheckHead))
	r.Get("/ws", p.Subscribe.Subscribe)
	r.NotFound(http.HandlerFunc(p.Base.NotFound))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/deliveries/{id}", p.Deliveries.Get)
		r.Get("/drivers/available", p.Drivers.ListAvailable)
		r.Get("/drivers/{id}", p.Drivers.GetByID)

		r.Group(func(r chi.Router) {
			if p.RateLimit != nil {
				r.Use(p.RateLimit.Handler())
			}
			r.Post("/deliveries", p.Deliveries.Create)
			r.Post("/deliveries/{id}/transition", p.Deliveries.Transition)
			r.Post("/drivers", p.Drivers.Create)
			r.Post("/drivers/{id}/activate", p.Drivers.Activate)
			r.Post("/drivers/{id}/deactivate", p.Drivers.Deactivate)
		})
	})

	return r
}
