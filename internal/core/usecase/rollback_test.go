package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func TestRollbackRestoresSnapshotAsNewVersion(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "v1"})
	ctx := context.Background()

	for _, title := range []string{"v2", "v3"} {
		view, _ := h.metadata.GetMetadata(ctx, res.AssetID)
		if _, err := h.metadata.UpdateMetadata(ctx, res.AssetID, view.VersionID, domain.Metadata{"title": title}); err != nil {
			t.Fatalf("UpdateMetadata() error = %v", err)
		}
	}
	before, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	target, _ := h.rollback.GetVersion(ctx, res.AssetID, 1)

	ref, err := h.rollback.Rollback(ctx, res.AssetID, 1)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if ref.Version <= before.Version || ref.Version == 1 {
		t.Fatalf("expected a new version above %d, got %d", before.Version, ref.Version)
	}
	if ref.VersionID == before.VersionID || ref.VersionID == target.VersionID {
		t.Fatalf("expected fresh version token, got %s", ref.VersionID)
	}

	after, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	beforeJSON, _ := target.Metadata.Encode()
	afterJSON, _ := after.Metadata.Encode()
	if string(beforeJSON) != string(afterJSON) {
		t.Fatalf("expected metadata %s, got %s", beforeJSON, afterJSON)
	}

	// The pre-rollback state is itself archived.
	archived, err := h.rollback.GetVersion(ctx, res.AssetID, before.Version)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if !reflect.DeepEqual(archived.Metadata, before.Metadata) {
		t.Fatalf("expected pre-rollback state archived, got %v", archived.Metadata)
	}
	if !hasAction(h.auditActions(t, res.AssetID), domain.ActionRollback) {
		t.Fatalf("expected rollback audit entry")
	}
}

func TestRollbackVersionNumbersStayMonotonic(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "v1"})
	ctx := context.Background()

	view, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if _, err := h.metadata.UpdateMetadata(ctx, res.AssetID, view.VersionID, domain.Metadata{"title": "v2"}); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	if _, err := h.rollback.Rollback(ctx, res.AssetID, 1); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if _, err := h.rollback.Rollback(ctx, res.AssetID, 2); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	versions, _ := h.rollback.ListVersions(ctx, res.AssetID)
	seen := map[int]bool{}
	for i, snap := range versions {
		if seen[snap.Version] {
			t.Fatalf("version %d archived twice", snap.Version)
		}
		seen[snap.Version] = true
		if i > 0 && snap.Version <= versions[i-1].Version {
			t.Fatalf("expected increasing versions, got %v", versions)
		}
	}
	current, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if current.Version != 4 || current.Metadata.String("title") != "v2" {
		t.Fatalf("expected v4 carrying v2 metadata, got %#v", current)
	}
}

func TestRollbackUnknownVersion(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", nil)

	_, err := h.rollback.Rollback(context.Background(), res.AssetID, 7)
	if !errors.Is(err, domain.ErrVersionNotFound) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected version not found, got %v", err)
	}

	// The current version has no archived snapshot yet.
	_, err = h.rollback.Rollback(context.Background(), res.AssetID, 1)
	if !errors.Is(err, domain.ErrVersionNotFound) {
		t.Fatalf("expected current version to be unavailable for rollback, got %v", err)
	}
}

func TestRollbackRejectsBadInput(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	if _, err := h.rollback.Rollback(context.Background(), "", 1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := h.rollback.Rollback(context.Background(), "missing", 1); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Fatalf("expected asset not found, got %v", err)
	}
}
