package main

import (
	"context"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	worldshandler "github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/handler"
	platformauth "github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/authz"
	platformlogging "github.com/zenGate-Global/palmyra-worlds/platform/go/logging"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/palmyra-worlds/platform/go/middleware"
)

// routerDeps carries everything the HTTP surface needs; main fills it from the environment.
type routerDeps struct {
	Logger         *zap.Logger
	Spec           *openapi3.T
	Authenticate   func(http.Handler) http.Handler
	Authorizer     *authz.Authorizer
	CSRF           *platformmiddleware.CSRF
	Worlds         *worldshandler.Handler
	Metrics        *metrics.Recorder
	Ready          func(ctx context.Context) error
	RequestTimeout time.Duration
	AllowedOrigins []string
}

func newRouter(d routerDeps) http.Handler {
	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(d.RequestTimeout),
		platformmiddleware.CORS(d.AllowedOrigins),
	)

	rootRouter.Use(platformlogging.RequestLogger(d.Logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				d.Logger.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	registerDocsRoutes(rootRouter, d.Spec, d.Logger)

	apiRouter := chi.NewRouter()
	apiRouter.Use(d.Authenticate)
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Route("/admin", func(r chi.Router) {
		r.Use(platformauth.RequireUser)
		// CSRF first: a forged mutation never reaches contract validation or the service.
		r.Use(platformmiddleware.RequireCSRF(d.CSRF))
		r.Use(platformmiddleware.ContractValidator(d.Spec, d.Authorizer))
		d.Worlds.Routes(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)
	return rootRouter
}
