package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slotbook/slotbook/internal/transport/rest/response"
)

type RouterOptions struct {
	Handler *Handler

	RateLimitEnabled bool
	RateLimit        int
	RateLimitWindow  int // seconds
}

// NewRouter builds the booking service's HTTP surface.
func NewRouter(opt RouterOptions) http.Handler {
	if opt.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(AccessLogger)
	r.Use(middleware.Recoverer)

	if opt.RateLimitEnabled {
		r.Use(httprate.LimitByIP(opt.RateLimit, windowSeconds(opt.RateLimitWindow)))
	}

	r.Get("/health", Health("booking"))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", opt.Handler.Create)
		r.Get("/", opt.Handler.List)
		r.Get("/{bookingID}", opt.Handler.Get)
	})

	return r
}

func windowSeconds(s int) time.Duration {
	if s <= 0 {
		s = 60
	}
	return time.Duration(s) * time.Second
}

// Health reports liveness for one service.
func Health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
		})
	}
}
