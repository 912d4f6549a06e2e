package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch invalidates the cache as soon as anything changes at one of the
// candidate locations, so an interpreter installed after start is picked up
// without waiting for the TTL. Only existing candidate directories can be
// watched; the TTL still bounds staleness for the others.
func (r *Resolver) Watch(ctx context.Context) error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	if r.watcher != nil {
		return errors.New("resolver is already watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	watched := 0
	for _, dir := range r.candidateDirs() {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			r.logger.Warn("cannot watch interpreter directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		watched++
	}

	r.watcher = watcher
	r.done = make(chan struct{})
	go r.watch(ctx, watcher, r.done)

	r.logger.Debug("watching interpreter candidates", zap.Int("dirs", watched))
	return nil
}

// Close stops the watcher started by Watch.
func (r *Resolver) Close() error {
	r.watchMu.Lock()
	watcher, done := r.watcher, r.done
	r.watcher, r.done = nil, nil
	r.watchMu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

func (r *Resolver) watch(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	candidates := make(map[string]struct{}, len(r.opts.PreferredPaths))
	for _, p := range r.opts.PreferredPaths {
		candidates[filepath.Clean(p)] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			r.watchMu.Lock()
			if r.watcher == watcher {
				r.watcher, r.done = nil, nil
			}
			r.watchMu.Unlock()
			_ = watcher.Close()
			// Drain until fsnotify closes its channels.
			for range watcher.Events {
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if _, hit := candidates[filepath.Clean(event.Name)]; !hit {
				continue
			}
			r.logger.Debug("interpreter candidate changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			r.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("interpreter watcher error", zap.Error(err))
		}
	}
}

func (r *Resolver) candidateDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range r.opts.PreferredPaths {
		dir := filepath.Dir(filepath.Clean(p))
		if seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	return dirs
}
