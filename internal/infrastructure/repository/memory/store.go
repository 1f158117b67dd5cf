// Package memory is an in-process store with the same transactional
// guarantees as the PostgreSQL repositories: every operation runs under one
// mutex, which makes read-check-write sequences atomic.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

type Store struct {
	mu        sync.Mutex
	assets    map[string]*domain.Asset
	byHash    map[string]string
	snapshots map[string][]domain.VersionSnapshot
	jobs      map[string]*domain.ProcessingJob
	jobOrder  []string
	audit     []domain.AuditEntry
}

func NewStore() *Store {
	return &Store{
		assets:    make(map[string]*domain.Asset),
		byHash:    make(map[string]string),
		snapshots: make(map[string][]domain.VersionSnapshot),
		jobs:      make(map[string]*domain.ProcessingJob),
	}
}

// Assets returns the asset repository view of the store.
func (s *Store) Assets() *AssetRepository { return &AssetRepository{s: s} }

// Jobs returns the job repository view of the store.
func (s *Store) Jobs() *JobRepository { return &JobRepository{s: s} }

// Audit returns the audit repository view of the store.
func (s *Store) Audit() *AuditRepository { return &AuditRepository{s: s} }

type AssetRepository struct{ s *Store }

func (r *AssetRepository) FindByHash(_ context.Context, contentHash string) (*domain.Asset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byHash[contentHash]
	if !ok {
		return nil, domain.ErrAssetNotFound
	}
	return cloneAsset(r.s.assets[id]), nil
}

func (r *AssetRepository) CreateWithJob(_ context.Context, asset *domain.Asset, job *domain.ProcessingJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.byHash[asset.ContentHash]; ok {
		return domain.WrapError(domain.ErrDuplicateContent, "create asset", errHashTaken)
	}
	if _, ok := r.s.assets[asset.ID]; ok {
		return domain.WrapError(domain.ErrPersistence, "create asset", errDuplicateKey)
	}
	r.s.assets[asset.ID] = cloneAsset(asset)
	r.s.byHash[asset.ContentHash] = asset.ID
	r.s.putJob(job)
	return nil
}

func (r *AssetRepository) GetByID(_ context.Context, id string) (*domain.Asset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	asset, ok := r.s.assets[id]
	if !ok {
		return nil, domain.ErrAssetNotFound
	}
	return cloneAsset(asset), nil
}

func (r *AssetRepository) ApplyMetadataChange(_ context.Context, change domain.MetadataChange) (domain.VersionRef, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	asset, ok := r.s.assets[change.AssetID]
	if !ok {
		return domain.VersionRef{}, domain.ErrAssetNotFound
	}
	if change.ExpectedVersionID != "" && change.ExpectedVersionID != asset.CurrentVersionID {
		return domain.VersionRef{}, &domain.ConflictError{
			AssetID:          asset.ID,
			YourVersionID:    change.ExpectedVersionID,
			CurrentVersionID: asset.CurrentVersionID,
			CurrentVersion:   asset.CurrentVersion,
		}
	}

	r.s.snapshots[asset.ID] = append(r.s.snapshots[asset.ID], domain.VersionSnapshot{
		AssetID:          asset.ID,
		Version:          asset.CurrentVersion,
		VersionID:        asset.CurrentVersionID,
		Metadata:         asset.Metadata.Clone(),
		CreatedAt:        change.At,
		CreatedBy:        change.Actor,
		ConflictResolved: change.ConflictResolved,
	})

	if change.Replace {
		asset.Metadata = change.Patch.Clone()
	} else {
		asset.Metadata = asset.Metadata.Merge(change.Patch)
	}
	asset.CurrentVersion++
	asset.CurrentVersionID = change.NewVersionID
	asset.UpdatedAt = change.At

	return domain.VersionRef{AssetID: asset.ID, Version: asset.CurrentVersion, VersionID: asset.CurrentVersionID}, nil
}

func (r *AssetRepository) UpdateStatus(_ context.Context, id string, status domain.AssetStatus, completedAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	asset, ok := r.s.assets[id]
	if !ok {
		return domain.ErrAssetNotFound
	}
	asset.Status = status
	if completedAt != nil {
		at := *completedAt
		asset.ProcessingCompletedAt = &at
	}
	asset.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *AssetRepository) ListVersions(_ context.Context, assetID string) ([]domain.VersionSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	src := r.s.snapshots[assetID]
	out := make([]domain.VersionSnapshot, 0, len(src))
	for _, snap := range src {
		snap.Metadata = snap.Metadata.Clone()
		out = append(out, snap)
	}
	return out, nil
}

func (r *AssetRepository) GetVersion(_ context.Context, assetID string, version int) (*domain.VersionSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, snap := range r.s.snapshots[assetID] {
		if snap.Version == version {
			snap.Metadata = snap.Metadata.Clone()
			return &snap, nil
		}
	}
	return nil, domain.ErrVersionNotFound
}

type JobRepository struct{ s *Store }

func (r *JobRepository) Create(_ context.Context, job *domain.ProcessingJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.assets[job.AssetID]; !ok {
		return domain.ErrAssetNotFound
	}
	if _, ok := r.s.jobs[job.ID]; ok {
		return domain.WrapError(domain.ErrPersistence, "create job", errDuplicateKey)
	}
	r.s.putJob(job)
	return nil
}

func (r *JobRepository) GetByID(_ context.Context, id string) (*domain.ProcessingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *JobRepository) GetLatestForAsset(_ context.Context, assetID string) (*domain.ProcessingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.jobOrder) - 1; i >= 0; i-- {
		job := r.s.jobs[r.s.jobOrder[i]]
		if job.AssetID == assetID {
			return cloneJob(job), nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (r *JobRepository) ListByStatus(_ context.Context, statuses []domain.JobStatus, limit int) ([]domain.ProcessingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.ProcessingJob, 0)
	for _, id := range r.s.jobOrder {
		job := r.s.jobs[id]
		if !slices.Contains(statuses, job.Status) {
			continue
		}
		out = append(out, *cloneJob(job))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *JobRepository) Transition(_ context.Context, t domain.JobTransition) (*domain.ProcessingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[t.JobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !slices.Contains(t.From, job.Status) {
		return nil, domain.WrapError(
			domain.ErrInvalidTransition,
			"transition job",
			transitionError(job.Status, t.To),
		)
	}
	job.Status = t.To
	if t.Progress != nil {
		job.ProgressPercentage = *t.Progress
	}
	if t.ErrorMessage != nil {
		job.ErrorMessage = *t.ErrorMessage
	}
	if t.RetryCount != nil {
		job.RetryCount = *t.RetryCount
	}
	if t.RetryConfig != nil {
		cfg := *t.RetryConfig
		job.RetryConfig = &cfg
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		job.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		job.CompletedAt = &at
	}
	if t.ResetCapabilities {
		job.CapabilitiesCompleted = []string{}
		job.CapabilitiesFailed = []string{}
		job.CompletedAt = nil
	}
	job.UpdatedAt = t.At
	return cloneJob(job), nil
}

func (r *JobRepository) UpdateProgress(_ context.Context, p domain.JobProgress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[p.JobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return domain.WrapError(domain.ErrInvalidTransition, "update job progress", transitionError(job.Status, domain.JobStatusProcessing))
	}
	job.ProgressPercentage = p.ProgressPercentage
	job.CapabilitiesCompleted = slices.Clone(p.CapabilitiesCompleted)
	job.CapabilitiesFailed = slices.Clone(p.CapabilitiesFailed)
	job.UpdatedAt = p.At
	return nil
}

type AuditRepository struct{ s *Store }

func (r *AuditRepository) Append(_ context.Context, entry *domain.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *entry
	stored.Details = entry.Details.Clone()
	r.s.audit = append(r.s.audit, stored)
	return nil
}

func (r *AuditRepository) ListByAsset(_ context.Context, assetID string, limit int) ([]domain.AuditEntry, error) {
	return r.list(limit, func(e domain.AuditEntry) bool { return e.AssetID == assetID }), nil
}

func (r *AuditRepository) ListRecent(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	return r.list(limit, func(domain.AuditEntry) bool { return true }), nil
}

func (r *AuditRepository) ListByController(_ context.Context, controller string, limit int) ([]domain.AuditEntry, error) {
	return r.list(limit, func(e domain.AuditEntry) bool { return e.Controller == controller }), nil
}

// list returns matching entries newest first.
func (r *AuditRepository) list(limit int, match func(domain.AuditEntry) bool) []domain.AuditEntry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.AuditEntry, 0)
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		entry := r.s.audit[i]
		if !match(entry) {
			continue
		}
		entry.Details = entry.Details.Clone()
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (s *Store) putJob(job *domain.ProcessingJob) {
	s.jobs[job.ID] = cloneJob(job)
	s.jobOrder = append(s.jobOrder, job.ID)
}

func cloneAsset(in *domain.Asset) *domain.Asset {
	out := *in
	out.Metadata = in.Metadata.Clone()
	out.OperationalTags = in.OperationalTags.Clone()
	if in.ProcessingCompletedAt != nil {
		at := *in.ProcessingCompletedAt
		out.ProcessingCompletedAt = &at
	}
	return &out
}

func cloneJob(in *domain.ProcessingJob) *domain.ProcessingJob {
	out := *in
	out.CapabilitiesCompleted = slices.Clone(in.CapabilitiesCompleted)
	out.CapabilitiesFailed = slices.Clone(in.CapabilitiesFailed)
	if out.CapabilitiesCompleted == nil {
		out.CapabilitiesCompleted = []string{}
	}
	if out.CapabilitiesFailed == nil {
		out.CapabilitiesFailed = []string{}
	}
	if in.RetryConfig != nil {
		cfg := *in.RetryConfig
		out.RetryConfig = &cfg
	}
	return &out
}
