package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proctor-quiz-service/internal/auth"
)

// GatewayDeps are the handlers served by the attempt gateway.
type GatewayDeps struct {
	WS             *WSHandler
	Gateway        *GatewayHandler
	Auth           *auth.Service
	AllowedOrigins []string
	Metrics        *HTTPMetrics
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewGatewayRouter serves websocket attempts, the device listing and metrics.
func NewGatewayRouter(d GatewayDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(d.AllowedOrigins))

	r.Get("/healthz", healthz)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	// The upgrade needs the raw connection, so the websocket route skips the
	// metrics wrapper and timeouts.
	r.Get("/ws/attempt", d.WS.ServeWS)

	r.Group(func(r chi.Router) {
		if d.Metrics != nil {
			r.Use(d.Metrics.Middleware)
		}
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(d.Auth.Middleware(writeError))
		r.Get("/api/quizzes", d.Gateway.AvailableQuizzes)
		r.Get("/api/history", d.Gateway.History)
		r.Get("/api/attempted", d.Gateway.AttemptedQuizzes)
		r.Get("/api/leaderboard/{id}", d.Gateway.Leaderboard)
	})
	return r
}

// APIDeps are the handlers served by the quiz REST API.
type APIDeps struct {
	API            *APIHandler
	Auth           *auth.Service
	AllowedOrigins []string
	Metrics        *HTTPMetrics
	Gatherer       prometheus.Gatherer
}

// NewAPIRouter serves the quiz REST API, the admin dashboard and the counters.
func NewAPIRouter(d APIDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(d.AllowedOrigins))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", healthz)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Mount("/api/quiz", d.API.Routes(d.Auth))
	r.Mount("/api/admin", d.API.AdminRoutes(d.Auth))
	d.API.StatsRoutes(r, d.Auth)
	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
