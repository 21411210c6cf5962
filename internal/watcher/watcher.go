// Package watcher guards the primary catalog file on disk. If the file is
// deleted or its parent directory disappears while the app is running, the
// in-memory catalog is re-persisted so the next crash cannot lose state.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// defaultDebounce absorbs the remove+create burst an atomic rename produces,
// so routine catalog saves never look like deletions.
const defaultDebounce = 250 * time.Millisecond

// Guard watches the catalog file for deletion and calls restore when it goes
// missing. The parent directory is what fsnotify actually watches, since a
// deleted file cannot be watched directly.
type Guard struct {
	catalogPath string
	parentPath  string
	restore     func()
	watcher     *fsnotify.Watcher
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	running     bool
	debounce    time.Duration
}

// New creates a Guard for the catalog file at catalogPath. restore is called
// after the file has been missing for the debounce window.
func New(catalogPath string, restore func()) (*Guard, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Guard{
		catalogPath: catalogPath,
		parentPath:  filepath.Dir(catalogPath),
		restore:     restore,
		watcher:     fsw,
		ctx:         ctx,
		cancel:      cancel,
		debounce:    defaultDebounce,
	}, nil
}

// Start begins watching. Safe to call once; repeat calls are no-ops.
func (g *Guard) Start() error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.mu.Unlock()

	if err := g.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", g.parentPath).Msg("Catalog guard watch failed, will retry on recreation")
	}
	go g.watchLoop()
	return nil
}

// Stop stops the guard and releases the fsnotify handle.
func (g *Guard) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return nil
	}
	g.running = false
	g.cancel()
	return g.watcher.Close()
}

func (g *Guard) addWatch() error {
	if _, err := os.Stat(g.parentPath); err != nil {
		return err
	}
	return g.watcher.Add(g.parentPath)
}

func (g *Guard) watchLoop() {
	var pending *time.Timer
	stopPending := func() {
		if pending != nil {
			pending.Stop()
		}
	}

	for {
		select {
		case <-g.ctx.Done():
			stopPending()
			return

		case event, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			eventPath := filepath.Clean(event.Name)

			switch {
			case eventPath == g.parentPath && event.Op&fsnotify.Remove != 0:
				// Whole data directory removed. Wait out the debounce,
				// then restore from memory.
				log.Warn().Str("path", g.parentPath).Msg("Catalog directory deleted")
				stopPending()
				pending = time.AfterFunc(g.debounce, g.handleMissing)

			case eventPath == g.catalogPath && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				stopPending()
				pending = time.AfterFunc(g.debounce, g.handleMissing)

			case eventPath == g.catalogPath && event.Op&fsnotify.Create != 0:
				// The file came back within the window, most likely an
				// atomic save. Nothing to restore.
				stopPending()

			case eventPath == g.parentPath && event.Op&fsnotify.Create != 0:
				log.Info().Str("path", g.parentPath).Msg("Catalog directory recreated, re-watching")
				if err := g.addWatch(); err != nil {
					log.Warn().Err(err).Msg("Catalog guard re-watch failed")
				}
			}

		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Catalog guard error")
		}
	}
}

// handleMissing fires the restore callback if the catalog file is still gone
// once the debounce window closes.
func (g *Guard) handleMissing() {
	if _, err := os.Stat(g.catalogPath); err == nil {
		return
	}
	log.Warn().Str("path", g.catalogPath).Msg("Catalog file missing, restoring from memory")
	if g.restore != nil {
		g.restore()
	}

	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := g.addWatch(); err != nil {
			log.Warn().Err(err).Str("path", g.parentPath).Msg("Catalog guard re-watch after restore failed")
		}
	}()
}
