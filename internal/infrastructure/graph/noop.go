// Package graph holds keyword-graph indexers.
package graph

import (
	"context"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

// Noop is used when no graph database is configured.
type Noop struct{}

func (Noop) IndexAsset(context.Context, domain.GraphDocument) error { return nil }
