package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/config"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/ratelimit"
)

// Services are the inbound ports the REST surface calls into.
type Services struct {
	Ingest   ports.AssetIngestor
	Assets   ports.AssetReader
	Metadata ports.MetadataService
	Rollback ports.RollbackService
	Jobs     ports.JobService
	Audit    ports.AuditReader
}

// Observer receives request and domain metrics. *metrics.HTTPServerMetrics
// implements it.
type Observer interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
	RecordIngest(source, outcome string)
	RecordConflict()
	RecordRollback(err error)
	RecordRejected(reason string)
}

// RateLimiter decides per caller key; *ratelimit.Limiter implements it.
type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func WithMetrics(observer Observer) Option {
	return func(rt *Router) {
		if observer != nil {
			rt.observer = observer
		}
	}
}

func WithRateLimiter(limiter RateLimiter) Option {
	return func(rt *Router) {
		rt.limiter = limiter
	}
}

type Router struct {
	cfg       config.Config
	svc       Services
	logger    *slog.Logger
	observer  Observer
	limiter   RateLimiter
	validator *requestValidator
}

func NewRouter(cfg config.Config, services Services, opts ...Option) *Router {
	rt := &Router{
		cfg:      cfg,
		svc:      services,
		logger:   slog.Default(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.limiter == nil && cfg.APIRateLimitRPS > 0 {
		rt.limiter = ratelimit.New(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst, 0)
	}

	validator, err := newRequestValidator(context.Background())
	if err != nil {
		rt.logger.Error("openapi_validation_disabled", "error", err)
	} else {
		rt.validator = validator
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/assets", rt.ingestAsset)
	api.HandleFunc("GET /v1/assets/{id}", rt.getAsset)
	api.HandleFunc("GET /v1/assets/{id}/metadata", rt.getMetadata)
	api.HandleFunc("PATCH /v1/assets/{id}/metadata", rt.updateMetadata)
	api.HandleFunc("POST /v1/assets/{id}/metadata/resolve", rt.resolveConflict)
	api.HandleFunc("GET /v1/assets/{id}/versions", rt.listVersions)
	api.HandleFunc("GET /v1/assets/{id}/versions/{version}", rt.getVersion)
	api.HandleFunc("POST /v1/assets/{id}/rollback", rt.rollbackAsset)
	api.HandleFunc("POST /v1/assets/{id}/reprocess", rt.reprocessAsset)
	api.HandleFunc("GET /v1/assets/{id}/job", rt.getLatestJob)
	api.HandleFunc("GET /v1/assets/{id}/actions", rt.listAssetActions)
	api.HandleFunc("GET /v1/jobs/{id}", rt.getJob)
	api.HandleFunc("POST /v1/jobs/{id}/retry", rt.retryJob)
	api.HandleFunc("POST /v1/jobs/{id}/cancel", rt.cancelJob)
	api.HandleFunc("GET /v1/actions", rt.listActions)

	var apiHandler http.Handler = api
	if rt.validator != nil {
		apiHandler = rt.validator.middleware(apiHandler)
	}
	apiHandler = actorMiddleware(apiHandler)
	if rt.limiter != nil {
		apiHandler = rateLimitMiddleware(apiHandler, rt.limiter, rt.observer)
	}
	if rt.cfg.APIKey != "" {
		apiHandler = apiKeyMiddleware(apiHandler, rt.cfg.APIKey)
	}
	if rt.cfg.APIMaxInFlight > 0 {
		apiHandler = rt.observeRejections(backpressureMiddleware(apiHandler, rt.cfg.APIMaxInFlight, rt.cfg.APIOverloadWait))
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	root.HandleFunc("GET /openapi.yaml", serveOpenAPI)
	root.Handle("GET /metrics", rt.observer.Handler())
	root.Handle("/v1/", apiHandler)

	return requestIDMiddleware(accessLogMiddleware(rt.logger, rt.observer.Middleware(root)))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// observeRejections counts 503 answers of the backpressure gate.
func (rt *Router) observeRejections(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if recorder.statusCode == http.StatusServiceUnavailable && recorder.Header().Get(overloadHeader) != "" {
			rt.observer.RecordRejected("overloaded")
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type noopObserver struct{}

func (noopObserver) Middleware(next http.Handler) http.Handler { return next }
func (noopObserver) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "metrics are not enabled")
	})
}
func (noopObserver) RecordIngest(string, string) {}
func (noopObserver) RecordConflict()             {}
func (noopObserver) RecordRollback(error)        {}
func (noopObserver) RecordRejected(string)       {}
