package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/resilience"
)

// brokerOutages are the connection states a later publish can recover from.
var brokerOutages = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrDisconnected,
}

// malformedPublish can never succeed on retry and says nothing about broker health.
var malformedPublish = []error{nats.ErrBadSubject, nats.ErrMaxPayload}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), matchesAny(err, brokerOutages):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case matchesAny(err, malformedPublish):
		return resilience.ErrorClassification{}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// asTemporary marks broker outages as ErrTemporary: ingest answers "accepted,
// scheduling delayed" and the job stays Queued until the worker's resume sweep.
func asTemporary(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyNATSError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}
