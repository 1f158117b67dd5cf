package httpadapter

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	job, err := rt.svc.Jobs.GetJob(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type retryRequest struct {
	MaxAttempts       int     `json:"max_attempts"`
	InitialInterval   string  `json:"initial_interval"`
	MaxInterval       string  `json:"max_interval"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

func (req retryRequest) toConfig() (domain.RetryConfig, error) {
	cfg := domain.RetryConfig{
		MaxAttempts:       req.MaxAttempts,
		BackoffMultiplier: req.BackoffMultiplier,
	}
	var err error
	if cfg.InitialInterval, err = parseOptionalDuration(req.InitialInterval); err != nil {
		return cfg, domain.WrapError(domain.ErrInvalidInput, "parse retry config", fmt.Errorf("initial_interval: %w", err))
	}
	if cfg.MaxInterval, err = parseOptionalDuration(req.MaxInterval); err != nil {
		return cfg, domain.WrapError(domain.ErrInvalidInput, "parse retry config", fmt.Errorf("max_interval: %w", err))
	}
	return cfg, nil
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func (rt *Router) retryJob(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	var req retryRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	result, err := rt.svc.Jobs.RetryJob(r.Context(), id, cfg)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (rt *Router) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := bindPathString(r, "id")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	job, err := rt.svc.Jobs.CancelJob(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) listActions(w http.ResponseWriter, r *http.Request) {
	limit, err := bindQueryInt(r, "limit")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	controller, err := bindQueryString(r, "controller")
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	var entries []domain.AuditEntry
	if controller != "" {
		entries, err = rt.svc.Audit.ListActionsByController(r.Context(), controller, limit)
	} else {
		entries, err = rt.svc.Audit.ListRecentActions(r.Context(), limit)
	}
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": entries})
}
