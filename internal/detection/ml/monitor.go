package ml

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc receives the outcome of every reload attempt.
type ReloadFunc func(artifacts *Artifacts, err error)

// ModelMonitor watches the artifact directory and reloads the registry when
// files change. Bursts of events within the debounce window trigger one reload.
type ModelMonitor struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload ReloadFunc
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewModelMonitor creates a watcher on the registry directory.
func NewModelMonitor(registry *Registry, debounce time.Duration, onReload ReloadFunc, logger *zap.Logger) (*ModelMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(registry.Dir()); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", registry.Dir(), err)
	}
	if debounce <= 0 {
		debounce = time.Second
	}

	return &ModelMonitor{
		registry: registry,
		watcher:  watcher,
		debounce: debounce,
		onReload: onReload,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (m *ModelMonitor) Start(ctx context.Context) {
	go m.watchLoop(ctx)
}

// Stop stops watching and waits for the loop to exit.
func (m *ModelMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.watcher.Close()
	})
	<-m.done
}

func (m *ModelMonitor) watchLoop(ctx context.Context) {
	defer close(m.done)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			m.logger.Debug("model artifact changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(m.debounce)
			}
			pending = timer.C
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("model watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			artifacts, err := m.registry.Reload()
			if m.onReload != nil {
				m.onReload(artifacts, err)
			}
		}
	}
}
