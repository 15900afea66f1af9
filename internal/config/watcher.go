package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/trafficmon/edge-pipeline/internal/obslog"
)

// ThresholdWatcher keeps a Thresholds value current against a YAML
// overlay file, reloading on fsnotify events with a polling fallback if
// the watch itself cannot be established (adapted from the teacher's
// internal/license/watcher.go, same fsnotify-or-poll shape, applied to
// operator-tunable speed thresholds instead of license files).
type ThresholdWatcher struct {
	path string
	log  interface {
		Info(...interface{})
		Warn(...interface{})
	}

	mu  sync.RWMutex
	cur Thresholds
}

func NewThresholdWatcher(path string, base Thresholds) *ThresholdWatcher {
	return &ThresholdWatcher{
		path: path,
		log:  obslog.New("config", "info"),
		cur:  base,
	}
}

func (w *ThresholdWatcher) Current() Thresholds {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Start loads the overlay once if present, then watches for changes
// until ctx is cancelled. Missing file is not an error: defaults hold.
func (w *ThresholdWatcher) Start(ctx context.Context) {
	w.reload()

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		usePolling = true
	} else if err := watcher.Add(w.path); err != nil {
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond)
						w.reload()
					}
				case _, ok := <-watcher.Errors:
					if !ok {
						return
					}
				}
			}
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reload()
			}
		}
	}()
}

func (w *ThresholdWatcher) reload() {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return // absent overlay is normal; defaults hold
	}

	var overlay Thresholds
	w.mu.RLock()
	overlay = w.cur
	w.mu.RUnlock()

	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		w.log.Warn("threshold overlay parse failed, keeping previous values")
		return
	}

	w.mu.Lock()
	w.cur = overlay
	w.mu.Unlock()
	w.log.Info("threshold overlay reloaded")
}
