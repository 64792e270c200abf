package orchestrator

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/events"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

// ValidateFunc receives the outcome of each validation run in watch mode.
type ValidateFunc func(res *story.Result, err error)

// Watch validates once, then again every time a YAML file in the spec or
// game directory is written, created, removed or renamed. Runs are
// serial. Blocks until ctx is done.
func (p *Pipeline) Watch(ctx context.Context, fn ValidateFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dirs := p.watchDirs()
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return story.NewConfigurationError("watch", dir, err)
		}
	}
	events.Emit("info", "watch.started", "watching story specs", map[string]interface{}{
		"dirs": dirs,
	})

	fn(p.Validate())

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			events.Emit("info", "watch.reload", "spec change detected", map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			})
			drain(watcher.Events)
			fn(p.Validate())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			events.Emit("error", "system.error", "watcher failed", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	}
}

// watchDirs lists the existing directories holding specs. A single spec
// file is watched directly.
func (p *Pipeline) watchDirs() []string {
	dirs := []string{p.paths.SpecDir}
	if info, err := os.Stat(p.paths.GameDir); err == nil && info.IsDir() {
		dirs = append(dirs, p.paths.GameDir)
	}
	return dirs
}

func relevant(event fsnotify.Event) bool {
	if !story.IsYAMLFile(event.Name) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// drain drops events already queued so a burst of saves triggers one run.
func drain(ch <-chan fsnotify.Event) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
