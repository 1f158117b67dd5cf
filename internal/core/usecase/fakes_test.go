package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/hashing"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/repository/memory"
)

type storageFake struct {
	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func newStorageFake() *storageFake {
	return &storageFake{blobs: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.blobs[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open blob", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type queueFake struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (f *queueFake) PublishJobQueued(_ context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, jobID)
	return nil
}

func (f *queueFake) SubscribeJobQueued(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func (f *queueFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type pipelineFake struct {
	workflow domain.Workflow
	named    map[string]domain.Workflow
	fragment domain.Metadata
	err      error
	during   func()
	runs     int
	ran      []string
}

func (f *pipelineFake) SelectWorkflow(domain.Asset) domain.Workflow {
	return f.workflow
}

func (f *pipelineFake) Workflow(name string) (domain.Workflow, bool) {
	if wf, ok := f.named[name]; ok {
		return wf, true
	}
	if name == f.workflow.Name {
		return f.workflow, true
	}
	return domain.Workflow{}, false
}

func (f *pipelineFake) Run(
	_ context.Context,
	workflow domain.Workflow,
	_ domain.EnrichmentInput,
	report func(domain.CapabilityProgress),
) (domain.EnrichmentResult, error) {
	f.runs++
	f.ran = append(f.ran, workflow.Name)
	names := make([]string, 0, len(workflow.Capabilities))
	for i, step := range workflow.Capabilities {
		names = append(names, step.Name)
		report(domain.CapabilityProgress{
			Capability: step.Name,
			Succeeded:  true,
			Completed:  i + 1,
			Total:      len(workflow.Capabilities),
		})
	}
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return domain.EnrichmentResult{}, f.err
	}
	return domain.EnrichmentResult{
		Workflow:              workflow.Name,
		Fragment:              f.fragment.Clone(),
		CapabilitiesCompleted: names,
		CapabilitiesFailed:    []string{},
	}, nil
}

type graphFake struct {
	docs []domain.GraphDocument
	err  error
}

func (f *graphFake) IndexAsset(_ context.Context, doc domain.GraphDocument) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc)
	return nil
}

type harness struct {
	store    *memory.Store
	storage  *storageFake
	queue    *queueFake
	pipeline *pipelineFake
	graph    *graphFake
	audit    *AuditLog
	ingest   *IngestAssetUseCase
	metadata *MetadataUseCase
	rollback *RollbackUseCase
	jobs     *JobOrchestrator
	sleeps   []time.Duration
}

func newHarness(t *testing.T, mode MergeMode) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:   memory.NewStore(),
		storage: newStorageFake(),
		queue:   &queueFake{},
		graph:   &graphFake{},
		pipeline: &pipelineFake{
			workflow: domain.Workflow{
				Name: "STANDARD_WORKFLOW",
				Capabilities: []domain.CapabilityStep{
					{Name: domain.CapabilityMediaProbe, Required: true},
					{Name: domain.CapabilityAIAnalysis, Required: false},
				},
			},
			fragment: domain.Metadata{
				"ai_summary":  "a short clip",
				"ai_keywords": []any{"Harbor", "boats"},
				"ai_topics":   []any{"travel"},
			},
		},
	}
	h.audit = NewAuditLog(h.store.Audit(), logger)
	h.ingest = NewIngestAssetUseCase(
		h.store.Assets(), h.storage, h.queue, hashing.SHA256{}, h.pipeline, h.audit, logger,
		IngestOptions{MaxUploadBytes: 1024, EstimatePerCapability: time.Minute},
	)
	h.metadata = NewMetadataUseCase(h.store.Assets(), h.audit, logger)
	h.rollback = NewRollbackUseCase(h.store.Assets(), h.audit)
	h.jobs = NewJobOrchestrator(
		h.store.Jobs(), h.store.Assets(), h.storage, h.queue, h.pipeline, h.metadata, h.graph, h.audit, logger,
		OrchestratorOptions{MergeMode: mode, EstimatePerCapability: time.Minute},
	)
	h.jobs.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) ingestText(t *testing.T, content string, md domain.Metadata) *domain.IngestResult {
	t.Helper()
	res, err := h.ingest.Ingest(context.Background(), domain.IngestRequest{
		Filename: "clip.mp4",
		Body:     strings.NewReader(content),
		Metadata: md,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	return res
}

func (h *harness) auditActions(t *testing.T, assetID string) []domain.AuditAction {
	t.Helper()
	entries, err := h.audit.ListActionsForAsset(context.Background(), assetID, 500)
	if err != nil {
		t.Fatalf("ListActionsForAsset() error = %v", err)
	}
	out := make([]domain.AuditAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func hasAction(actions []domain.AuditAction, want domain.AuditAction) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}
