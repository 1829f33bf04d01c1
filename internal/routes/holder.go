package routes

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Holder publishes the active snapshot; reloads swap the whole pointer.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder creates holder with initial snapshot.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(cfg)
	return h
}

// Current returns active snapshot.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Store replaces active snapshot.
func (h *Holder) Store(cfg *Config) {
	h.current.Store(cfg)
}

// Watch reloads path into holder whenever the file is written or replaced, until ctx ends.
// A reload that fails keeps the previous snapshot active.
// Params: ctx lifecycle, routes path, load options, holder, logger, and optional result hook.
// Returns: watcher setup error; nil after ctx cancellation.
func Watch(
	ctx context.Context,
	path string,
	opts LoadOptions,
	holder *Holder,
	logger *slog.Logger,
	onReload func(err error),
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// The directory is watched because editors and config mounts replace the file by rename.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	logger.Info("routes watch started", "path", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := reload(path, opts)
			if err != nil {
				logger.Error("routes reload failed, keeping previous snapshot", "path", path, "error", err)
			} else {
				holder.Store(cfg)
				logger.Info("routes reloaded", "path", path, "routes", len(cfg.Routes))
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("routes watcher error", "error", err)
		}
	}
}

// reload is Load for a running process: an empty document is a failure rather than
// the fallback, since editors truncate the file before writing it.
func reload(path string, opts LoadOptions) (*Config, error) {
	cfg, err := Load(path, opts)
	if err != nil {
		return nil, err
	}
	if cfg.IsFallback() {
		return nil, &ConfigError{Source: path, Problems: []string{"routes document is empty or missing"}}
	}
	return cfg, nil
}
