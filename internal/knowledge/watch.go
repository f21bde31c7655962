package knowledge

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configured sources whenever a file under them is
// written, created, removed or renamed, waiting for Debounce of quiet first.
// onChange receives every reload's report. Watch blocks until ctx is done.
func (b *Base) Watch(ctx context.Context, onChange func(*LoadReport, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range b.opts.Sources {
		if err := addTree(watcher, root); err != nil {
			return err
		}
	}
	b.logger.Info("watching knowledge sources", "sources", b.opts.Sources)

	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				// new directories are watched too
				addTree(watcher, event.Name)
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(b.opts.Debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			report, err := b.Load(ctx)
			if err != nil {
				b.logger.Warn("knowledge reload failed", "error", err)
			}
			if onChange != nil {
				onChange(report, err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("knowledge watcher error", "error", err)
		}
	}
}

// addTree watches root and every non-hidden directory below it.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}
