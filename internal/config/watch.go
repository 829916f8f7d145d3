package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// Watch calls fn with the freshly loaded config every time the file at path
// changes and still validates. Invalid edits are logged and skipped. The
// parent directory is watched so atomic rename-on-save is seen. Watch
// returns once the watcher is installed; it stops when ctx is done.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	go watchLoop(ctx, watcher, filepath.Clean(path), fn)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, fn func(Config)) {
	defer watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				pending = time.After(reloadDebounce)
			}
		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				log.Printf("CONFIG: reload of %s skipped: %v", path, err)
				continue
			}
			log.Printf("CONFIG: reloaded %s", path)
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("CONFIG: watcher error: %v", err)
		}
	}
}
