package usecase

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func TestUpdateMetadataWithCurrentTokenAdvancesVersion(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "Old", "category": "news"})
	ctx := domain.WithActor(context.Background(), "editor-1")

	before, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	ref, err := h.metadata.UpdateMetadata(ctx, res.AssetID, before.VersionID, domain.Metadata{"title": "New"})
	if err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	if ref.Version != before.Version+1 || ref.VersionID == before.VersionID {
		t.Fatalf("expected version %d with fresh token, got %#v", before.Version+1, ref)
	}

	after, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	want := domain.Metadata{"title": "New", "category": "news"}
	if !reflect.DeepEqual(after.Metadata, want) {
		t.Fatalf("expected merged metadata %v, got %v", want, after.Metadata)
	}

	snap, err := h.rollback.GetVersion(ctx, res.AssetID, before.Version)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if snap.VersionID != before.VersionID || snap.CreatedBy != "editor-1" || !reflect.DeepEqual(snap.Metadata, before.Metadata) {
		t.Fatalf("expected archived pre-update state, got %#v", snap)
	}
}

func TestUpdateMetadataWithStaleTokenConflictsAndChangesNothing(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "Old"})
	ctx := context.Background()

	stale, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if _, err := h.metadata.UpdateMetadata(ctx, res.AssetID, stale.VersionID, domain.Metadata{"title": "First"}); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	current, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	versionsBefore, _ := h.rollback.ListVersions(ctx, res.AssetID)

	_, err := h.metadata.UpdateMetadata(ctx, res.AssetID, stale.VersionID, domain.Metadata{"title": "Second"})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	conflict, ok := domain.AsConflict(err)
	if !ok || conflict.YourVersionID != stale.VersionID || conflict.CurrentVersionID != current.VersionID {
		t.Fatalf("expected conflict carrying both tokens, got %#v", conflict)
	}

	unchanged, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if !reflect.DeepEqual(unchanged, current) {
		t.Fatalf("expected state untouched by conflict, got %#v", unchanged)
	}
	versionsAfter, _ := h.rollback.ListVersions(ctx, res.AssetID)
	if len(versionsAfter) != len(versionsBefore) {
		t.Fatalf("expected no snapshot written on conflict")
	}
	if !hasAction(h.auditActions(t, res.AssetID), domain.ActionConflictDetected) {
		t.Fatalf("expected conflict_detected audit entry")
	}
}

func TestIngestThenStaleUpdateScenario(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	ctx := context.Background()

	first := h.ingestText(t, "scenario bytes", nil)
	if first.Duplicate || first.JobID == "" {
		t.Fatalf("expected new asset with a job, got %+v", first)
	}
	again := h.ingestText(t, "scenario bytes", nil)
	if !again.Duplicate || again.AssetID != first.AssetID || again.JobID != "" {
		t.Fatalf("expected duplicate of %s without a job, got %+v", first.AssetID, again)
	}

	v0, _ := h.metadata.GetMetadata(ctx, first.AssetID)
	ref, err := h.metadata.UpdateMetadata(ctx, first.AssetID, v0.VersionID, domain.Metadata{"title": "X"})
	if err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	if ref.Version != 2 {
		t.Fatalf("expected version 2, got %d", ref.Version)
	}

	_, err = h.metadata.UpdateMetadata(ctx, first.AssetID, v0.VersionID, domain.Metadata{"title": "Y"})
	conflict, ok := domain.AsConflict(err)
	if !ok {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if conflict.CurrentVersion != 2 || conflict.YourVersionID != v0.VersionID || conflict.CurrentVersionID != ref.VersionID {
		t.Fatalf("unexpected conflict %#v", conflict)
	}

	view, _ := h.metadata.GetMetadata(ctx, first.AssetID)
	if view.Version != 2 || view.Metadata.String("title") != "X" {
		t.Fatalf("expected first writer's metadata at version 2, got v%d %v", view.Version, view.Metadata)
	}
}

func TestConcurrentUpdatesWithSameTokenExactlyOneWins(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "Old"})
	ctx := context.Background()
	start, _ := h.metadata.GetMetadata(ctx, res.AssetID)

	const writers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.metadata.UpdateMetadata(ctx, res.AssetID, start.VersionID, domain.Metadata{"writer": float64(i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || conflicts != writers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d", writers-1, succeeded, conflicts)
	}
	final, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if final.Version != start.Version+1 {
		t.Fatalf("expected exactly one version advance, got %d", final.Version)
	}
}

func TestStaleTokenConflictsEvenOnDisjointKeys(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "Old", "rating": 3})
	ctx := context.Background()
	stale, _ := h.metadata.GetMetadata(ctx, res.AssetID)

	if _, err := h.metadata.UpdateMetadata(ctx, res.AssetID, stale.VersionID, domain.Metadata{"title": "New"}); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	_, err := h.metadata.UpdateMetadata(ctx, res.AssetID, stale.VersionID, domain.Metadata{"rating": 5})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected whole-document conflict for disjoint keys, got %v", err)
	}
}

func TestUpdateMetadataWithoutTokenIsLastWriterWins(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "Old"})
	ctx := context.Background()

	ref, err := h.metadata.UpdateMetadata(ctx, res.AssetID, "", domain.Metadata{"title": "Forced"})
	if err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	if ref.Version != 2 {
		t.Fatalf("expected version 2, got %d", ref.Version)
	}

	entries, _ := h.audit.ListActionsForAsset(ctx, res.AssetID, 10)
	found := false
	for _, e := range entries {
		if e.Action == domain.ActionMetadataUpdate && e.Details.String("token") == "omitted" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected token-less update to be audited")
	}
}

func TestResolveConflictReplacesAndArchivesPreResolutionState(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "Old", "drop": "me"})
	ctx := context.Background()
	before, _ := h.metadata.GetMetadata(ctx, res.AssetID)

	resolved := domain.Metadata{"title": "Merged by hand"}
	ref, err := h.metadata.ResolveConflict(ctx, res.AssetID, resolved)
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if ref.Version != before.Version+1 {
		t.Fatalf("expected version advance, got %d", ref.Version)
	}

	after, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if !reflect.DeepEqual(after.Metadata, resolved) {
		t.Fatalf("expected full replace, got %v", after.Metadata)
	}
	snap, err := h.rollback.GetVersion(ctx, res.AssetID, before.Version)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if !snap.ConflictResolved || !reflect.DeepEqual(snap.Metadata, before.Metadata) {
		t.Fatalf("expected pre-resolution snapshot marked resolved, got %#v", snap)
	}
}

func TestMetadataReadsDoNotAliasStoredState(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"tags": []any{"a"}})
	ctx := context.Background()

	view, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	view.Metadata["tags"].([]any)[0] = "mutated"
	view.Metadata["extra"] = true

	again, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if again.Metadata.StringList("tags")[0] != "a" || again.Metadata["extra"] != nil {
		t.Fatalf("expected stored metadata isolated from callers, got %v", again.Metadata)
	}
}

func TestUpdateMetadataUnknownAsset(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	_, err := h.metadata.UpdateMetadata(context.Background(), "missing", "", domain.Metadata{"a": "b"})
	if !errors.Is(err, domain.ErrAssetNotFound) {
		t.Fatalf("expected asset not found, got %v", err)
	}
}
