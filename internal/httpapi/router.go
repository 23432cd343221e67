package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router is the status server router on the stdlib ServeMux.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterStatusRoutes registers health, metrics and webhook queue routes.
func (r *Router) RegisterStatusRoutes(s *StatusHandler) {
	r.Handle("/healthz", s.Health)
	r.HandleHandler("/metrics", promhttp.Handler())

	// /api/v1/webhooks/{id}/queues and /api/v1/webhooks/{id}/reset-failed
	r.Handle(webhooksPrefix, s.Webhook)
}
