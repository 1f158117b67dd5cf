package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

// CapabilityObserver receives the outcome and latency of every capability run.
type CapabilityObserver func(capability string, succeeded bool, elapsed time.Duration)

// Pipeline runs the capabilities of a workflow in order. Each capability
// sees the fragment produced so far; the merged fragment is the result.
type Pipeline struct {
	router       *Router
	capabilities map[string]ports.Capability
	logger       *slog.Logger
	observer     CapabilityObserver
}

func NewPipeline(router *Router, logger *slog.Logger, capabilities ...ports.Capability) (*Pipeline, error) {
	if router == nil {
		return nil, fmt.Errorf("enrichment pipeline: router is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		router:       router,
		capabilities: make(map[string]ports.Capability, len(capabilities)),
		logger:       logger,
	}
	for _, c := range capabilities {
		p.capabilities[c.Name()] = c
	}
	for _, name := range router.CapabilityNames() {
		if _, ok := p.capabilities[name]; !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "build enrichment pipeline",
				fmt.Errorf("workflow references unregistered capability %q", name))
		}
	}
	return p, nil
}

func (p *Pipeline) SetObserver(observer CapabilityObserver) {
	p.observer = observer
}

func (p *Pipeline) SelectWorkflow(asset domain.Asset) domain.Workflow {
	return p.router.Select(asset)
}

func (p *Pipeline) Workflow(name string) (domain.Workflow, bool) {
	return p.router.Workflow(name)
}

func (p *Pipeline) Run(
	ctx context.Context,
	workflow domain.Workflow,
	in domain.EnrichmentInput,
	report func(domain.CapabilityProgress),
) (domain.EnrichmentResult, error) {
	result := domain.EnrichmentResult{
		Workflow:              workflow.Name,
		Fragment:              domain.Metadata{},
		CapabilitiesCompleted: []string{},
		CapabilitiesFailed:    []string{},
	}
	total := len(workflow.Capabilities)

	for i, step := range workflow.Capabilities {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("enrichment interrupted before %s: %w", step.Name, err)
		}

		stepIn := in
		stepIn.Fragment = result.Fragment.Clone()

		start := time.Now()
		fragment, err := p.apply(ctx, step.Name, stepIn)
		elapsed := time.Since(start)
		if p.observer != nil {
			p.observer(step.Name, err == nil, elapsed)
		}

		progress := domain.CapabilityProgress{
			Capability: step.Name,
			Succeeded:  err == nil,
			Completed:  i + 1,
			Total:      total,
			Err:        err,
		}

		if err != nil {
			result.CapabilitiesFailed = append(result.CapabilitiesFailed, step.Name)
			if report != nil {
				report(progress)
			}
			if step.Required {
				return result, domain.WrapError(domain.ErrPipelineFailure, "capability "+step.Name, err)
			}
			p.logger.Warn("optional_capability_failed",
				"asset_id", in.Asset.ID,
				"workflow", workflow.Name,
				"capability", step.Name,
				"error", err,
			)
			continue
		}

		result.Fragment = result.Fragment.Merge(fragment)
		result.CapabilitiesCompleted = append(result.CapabilitiesCompleted, step.Name)
		if report != nil {
			report(progress)
		}
		p.logger.Debug("capability_completed",
			"asset_id", in.Asset.ID,
			"capability", step.Name,
			"duration_ms", float64(elapsed.Microseconds())/1000.0,
		)
	}
	return result, nil
}

func (p *Pipeline) apply(ctx context.Context, name string, in domain.EnrichmentInput) (domain.Metadata, error) {
	capability, ok := p.capabilities[name]
	if !ok {
		return nil, fmt.Errorf("capability %q is not registered", name)
	}
	fragment, err := capability.Apply(ctx, in)
	if err != nil {
		return nil, err
	}
	return domain.NormalizeMetadata(fragment)
}
