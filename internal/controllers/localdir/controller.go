// Package localdir ingests files dropped into a local directory.
package localdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

const (
	Name    = "local-ingress"
	Version = "1.0.0"

	defaultDebounce = 500 * time.Millisecond
)

type auditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

type Options struct {
	// Debounce is how long a file must stay quiet before the watcher ingests it.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Controller scans and watches Dir, pushing each regular file through the
// deduplication gate. Files already seen with the same size and mtime are
// not read again.
type Controller struct {
	dir      string
	ingestor ports.AssetIngestor
	assets   ports.AssetRepository
	hasher   ports.ContentHasher
	rollback ports.RollbackService
	audit    auditRecorder
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.Mutex
	seen map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

func New(
	dir string,
	ingestor ports.AssetIngestor,
	assets ports.AssetRepository,
	hasher ports.ContentHasher,
	rollback ports.RollbackService,
	audit auditRecorder,
	options Options,
) (*Controller, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "local ingress", fmt.Errorf("directory is required"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ingress dir: %w", err)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Controller{
		dir:      dir,
		ingestor: ingestor,
		assets:   assets,
		hasher:   hasher,
		rollback: rollback,
		audit:    audit,
		logger:   logger.With("controller", Name),
		debounce: debounce,
		seen:     map[string]fileStamp{},
	}, nil
}

func (c *Controller) Name() string    { return Name }
func (c *Controller) Version() string { return Version }

// Sync ingests every new or changed file under the directory. Per-file
// failures are counted in the result; only a walk failure is returned.
func (c *Controller) Sync(ctx context.Context) (domain.SyncResult, error) {
	result := domain.SyncResult{Controller: Name}
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != c.dir && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		result.Scanned++
		c.ingestPath(ctx, path, &result)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("scan ingress dir: %w", err)
	}

	c.logger.Info("ingress_sync_completed",
		"scanned", result.Scanned,
		"ingested", result.Ingested,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
	)
	return result, nil
}

// Watch runs an initial Sync and then ingests files as they are created or
// rewritten anywhere under the directory. Subdirectories created later are
// watched as they appear. It blocks until ctx is done.
func (c *Controller) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := c.watchTree(watcher, c.dir); err != nil {
		return fmt.Errorf("watch ingress dir: %w", err)
	}
	if _, err := c.Sync(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("ingress_initial_sync_failed", "error", err)
	}

	var (
		timersMu sync.Mutex
		timers   = map[string]*time.Timer{}
	)
	defer func() {
		timersMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timersMu.Unlock()
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isHidden(filepath.Base(event.Name)) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					c.addDir(ctx, watcher, event.Name)
					continue
				}
			}
			path := event.Name
			timersMu.Lock()
			if t, exists := timers[path]; exists {
				t.Stop()
			}
			timers[path] = time.AfterFunc(c.debounce, func() {
				timersMu.Lock()
				delete(timers, path)
				timersMu.Unlock()
				c.ingestChanged(ctx, path)
			})
			timersMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("ingress_watch_error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

// watchTree adds root and every non-hidden directory below it to watcher.
func (c *Controller) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if path != c.dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// addDir starts watching a directory created after Watch began. Files that
// landed in it before the watch was registered are ingested right away.
func (c *Controller) addDir(ctx context.Context, watcher *fsnotify.Watcher, dir string) {
	if err := c.watchTree(watcher, dir); err != nil {
		c.logger.Warn("ingress_watch_dir_failed", "dir", dir, "error", err)
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			c.ingestChanged(ctx, path)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("ingress_scan_dir_failed", "dir", dir, "error", err)
	}
}

func (c *Controller) ingestChanged(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	var result domain.SyncResult
	c.ingestPath(ctx, path, &result)
}

func (c *Controller) ingestPath(ctx context.Context, path string, result *domain.SyncResult) {
	info, err := os.Stat(path)
	if err != nil {
		c.recordFailure(result, path, err)
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
	if c.alreadySeen(path, stamp) {
		return
	}

	rel, err := filepath.Rel(c.dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		c.recordFailure(result, path, err)
		return
	}
	defer f.Close()

	res, err := c.ingestor.Ingest(ctx, domain.IngestRequest{
		Filename:        filepath.Base(path),
		Body:            f,
		SourceSystem:    domain.SourceLocalIngress,
		OperationalTags: domain.Metadata{"ingress_path": filepath.ToSlash(rel)},
	})
	if err != nil {
		c.recordFailure(result, rel, err)
		return
	}

	c.markSeen(path, stamp)
	if res.Duplicate {
		result.Duplicates++
		c.logger.Info("ingress_duplicate", "path", rel, "asset_id", res.AssetID)
		return
	}
	result.Ingested++
	c.logger.Info("ingress_ingested", "path", rel, "asset_id", res.AssetID, "job_id", res.JobID)
}

func (c *Controller) recordFailure(result *domain.SyncResult, path string, err error) {
	result.Failed++
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
	c.logger.Error("ingress_failed", "path", path, "error", err)
}

func (c *Controller) alreadySeen(path string, stamp fileStamp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.seen[path]
	return ok && prev.size == stamp.size && prev.modTime.Equal(stamp.modTime)
}

func (c *Controller) markSeen(path string, stamp fileStamp) {
	c.mu.Lock()
	c.seen[path] = stamp
	c.mu.Unlock()
}

// CheckDuplicate reports the asset id already holding data, if any.
func (c *Controller) CheckDuplicate(ctx context.Context, data []byte) (string, bool, error) {
	asset, err := c.assets.FindByHash(ctx, c.hasher.Sum(data))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("check duplicate: %w", err)
	}
	return asset.ID, true, nil
}

func (c *Controller) LogAction(ctx context.Context, entry domain.AuditEntry) error {
	if entry.Action == "" {
		return domain.WrapError(domain.ErrInvalidInput, "log action", fmt.Errorf("action is required"))
	}
	entry.Controller = Name
	entry.ControllerVersion = Version
	if entry.SourceSystem == "" {
		entry.SourceSystem = string(domain.SourceLocalIngress)
	}
	c.audit.Record(ctx, entry)
	return nil
}

func (c *Controller) Rollback(ctx context.Context, assetID string, targetVersion int) (domain.VersionRef, error) {
	return c.rollback.Rollback(ctx, assetID, targetVersion)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~")
}
