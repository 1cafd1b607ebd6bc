package coherence

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Modzer0/Brain-sub000/internal/models"
)

// WatchOrganizationConfig calls fn with the new weights whenever
// organization_config.json is written. The directory is watched rather than
// the file because atomic saves replace the inode. The watch runs until ctx is
// cancelled; the returned error covers watcher setup only.
func (c *CheckpointStore) WatchOrganizationConfig(ctx context.Context, fn func(models.OrganizationConfig)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(c.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", c.dir, err)
	}
	target := filepath.Join(c.dir, OrganizationConfigFile)

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
					continue
				}
				cfg, found, loadErr := c.LoadOrganizationConfig()
				if loadErr != nil {
					c.logger.Warn("coherence: ignoring unreadable organization config", "error", loadErr)
					continue
				}
				if !found {
					continue
				}
				c.logger.Info("coherence: organization config reloaded",
					"recency", cfg.RecencyWeight, "importance", cfg.ImportanceWeight, "relevance", cfg.RelevanceWeight)
				fn(cfg)
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				c.logger.Warn("coherence: watcher error", "error", werr)
			}
		}
	}()
	return nil
}
