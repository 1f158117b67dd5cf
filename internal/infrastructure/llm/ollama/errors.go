package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/resilience"
)

// StatusError is a non-2xx answer from the Ollama server.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama %s: http %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("ollama %s: http %d: %s", e.Path, e.StatusCode, e.Body)
}

// ModelMissing reports the 404 Ollama sends for a model that was never pulled.
func (e *StatusError) ModelMissing() bool {
	return e.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(e.Body), "model")
}

func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError && code != http.StatusNotImplemented
}

// classify feeds the resilience executor: server overload and network
// failures are retried and count against the breaker, client errors do neither.
func classify(err error) resilience.ErrorClassification {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.As(err, &statusErr):
		transient := transientStatus(statusErr.StatusCode)
		return resilience.ErrorClassification{Retryable: transient, RecordFailure: transient}
	case errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// toDomainError lets the enrichment job tell a retryable outage from a
// misconfigured model.
func toDomainError(op string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.ModelMissing() {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	if classify(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return err
}
