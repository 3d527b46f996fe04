// Package config provides topology watching and re-validation
package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/najoast/netsim/topology"
)

// TopologyChangeCallback is called after every reload. On a parse or
// validation failure t is the rejected document (nil if it did not parse)
// and err says why.
type TopologyChangeCallback func(t *topology.Topology, err error)

// TopologyWatcher watches a topology file and re-validates it on change
type TopologyWatcher struct {
	// Topology file path
	file string

	// Last topology that passed validation
	current   *topology.Topology
	currentMu sync.RWMutex

	// File system watcher
	fsWatcher *fsnotify.Watcher

	// Event callbacks
	callbacks   []TopologyChangeCallback
	callbacksMu sync.RWMutex

	debounce time.Duration
	log      *slog.Logger

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for goroutines
	wg sync.WaitGroup
}

// NewTopologyWatcher creates a watcher. The file must load and validate.
func NewTopologyWatcher(file string, log *slog.Logger) (*TopologyWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := FormatFromPath(file); err != nil {
		return nil, err
	}

	t, err := LoadTopology(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial topology: %w", err)
	}
	if err := topology.Validate(t); err != nil {
		return nil, fmt.Errorf("initial topology is invalid: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigWatchError, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TopologyWatcher{
		file:      filepath.Clean(file),
		current:   t,
		fsWatcher: fsWatcher,
		debounce:  500 * time.Millisecond,
		log:       log.With(slog.String("component", "topology_watcher")),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetDebounce sets how long to wait for writes to settle before reloading.
func (w *TopologyWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start starts watching the topology file
func (w *TopologyWatcher) Start() error {
	if err := w.fsWatcher.Add(w.file); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWatchError, err)
	}

	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop stops watching
func (w *TopologyWatcher) Stop() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

// Current returns the last topology that passed validation
func (w *TopologyWatcher) Current() *topology.Topology {
	w.currentMu.RLock()
	defer w.currentMu.RUnlock()
	return w.current.Clone()
}

// OnChange registers a callback for reloads
func (w *TopologyWatcher) OnChange(callback TopologyChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Reload reloads and re-validates the file now
func (w *TopologyWatcher) Reload() error {
	return w.reload()
}

// watchLoop watches for file system events
func (w *TopologyWatcher) watchLoop() {
	defer w.wg.Done()

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}

			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					if err := w.reload(); err != nil {
						w.log.Error("topology reload rejected", slog.Any("error", err))
					}
				})

			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				w.log.Warn("topology file was removed or renamed", slog.String("file", w.file))
				// Try to re-add the file in case it was recreated
				time.AfterFunc(time.Second, func() {
					if w.ctx.Err() != nil {
						return
					}
					if err := w.fsWatcher.Add(w.file); err == nil {
						_ = w.reload()
					}
				})
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error("topology watcher error", slog.Any("error", err))
		}
	}
}

// reload loads and validates the file, keeping the previous topology on failure
func (w *TopologyWatcher) reload() error {
	t, err := LoadTopology(w.file)
	if err == nil {
		err = topology.Validate(t)
	}
	if err != nil {
		w.notify(t, err)
		return err
	}

	w.currentMu.Lock()
	w.current = t
	w.currentMu.Unlock()

	w.log.Info("topology reloaded", slog.String("file", w.file), slog.Int("nodes", t.Len()))
	w.notify(t, nil)
	return nil
}

// notify calls every callback, each in its own goroutine
func (w *TopologyWatcher) notify(t *topology.Topology, err error) {
	w.callbacksMu.RLock()
	callbacks := make([]TopologyChangeCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		go func(cb TopologyChangeCallback) {
			defer func() {
				if r := recover(); r != nil {
					w.log.Error("topology callback panicked", slog.Any("panic", r))
				}
			}()
			var snapshot *topology.Topology
			if t != nil {
				snapshot = t.Clone()
			}
			cb(snapshot, err)
		}(callback)
	}
}
