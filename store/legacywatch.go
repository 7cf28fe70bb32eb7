package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LegacyWatcher imports legacy key-value dumps (*.json) dropped into a
// directory into the currently selected partition. Imported files are renamed
// with an ".imported" suffix.
type LegacyWatcher struct {
	local   *Local
	dir     string
	log     *slog.Logger
	watcher *fsnotify.Watcher

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewLegacyWatcher starts watching dir. Dumps already present are imported
// immediately.
func NewLegacyWatcher(local *Local, dir string, logger *slog.Logger) (*LegacyWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	lw := &LegacyWatcher{
		local:    local,
		dir:      dir,
		log:      logger,
		watcher:  w,
		stopChan: make(chan struct{}),
	}
	lw.scan()
	lw.wg.Add(1)
	go lw.loop()
	return lw, nil
}

// Stop stops watching and waits for the loop to exit.
func (lw *LegacyWatcher) Stop() {
	lw.stopOnce.Do(func() {
		close(lw.stopChan)
		lw.watcher.Close()
	})
	lw.wg.Wait()
}

func (lw *LegacyWatcher) loop() {
	defer lw.wg.Done()
	for {
		select {
		case <-lw.stopChan:
			return
		case ev, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				lw.importFile(ev.Name)
			}
		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			lw.log.Warn("store: legacy watcher error", "err", err)
		}
	}
}

func (lw *LegacyWatcher) scan() {
	entries, err := os.ReadDir(lw.dir)
	if err != nil {
		lw.log.Warn("store: legacy scan", "dir", lw.dir, "err", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			lw.importFile(filepath.Join(lw.dir, e.Name()))
		}
	}
}

func (lw *LegacyWatcher) importFile(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	n, err := lw.local.LoadLegacyDump(context.Background(), path)
	if err != nil {
		lw.log.Warn("store: legacy dump import failed", "file", path, "err", err)
		return
	}
	if err := os.Rename(path, path+".imported"); err != nil {
		lw.log.Warn("store: rename imported dump", "file", path, "err", err)
	}
	lw.log.Info("store: legacy dump imported", "file", filepath.Base(path), "records", n)
}
