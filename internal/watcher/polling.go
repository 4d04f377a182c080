package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher watches a single file by periodically polling its metadata.
// Used as a fallback when fsnotify is not available or fails (network mounts,
// some container volumes).
type PollingWatcher struct {
	interval  time.Duration
	events    chan FileEvent
	errors    chan error
	stopCh    chan struct{}
	mu        sync.RWMutex
	stopped   bool
	watchPath string
	last      *fileSnapshot // nil while the file is absent
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a new polling watcher with the given interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching the given file by polling.
// A missing file is a valid baseline; its later appearance emits OpCreate.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.watchPath = absPath

	// Establish baseline
	p.mu.Lock()
	if info, err := os.Stat(absPath); err == nil {
		p.last = &fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.check(); err != nil {
				// Non-fatal error, send to error channel
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the polling watcher.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// check compares the file's current metadata with the last snapshot and
// emits create/modify/delete events.
func (p *PollingWatcher) check() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := filepath.Base(p.watchPath)

	info, err := os.Stat(p.watchPath)
	if err != nil {
		if os.IsNotExist(err) {
			if p.last != nil {
				p.last = nil
				p.emitEvent(FileEvent{
					Path:      name,
					Operation: OpDelete,
					Timestamp: time.Now(),
				})
			}
			return nil
		}
		return fmt.Errorf("stat %s: %w", p.watchPath, err)
	}

	snap := fileSnapshot{modTime: info.ModTime(), size: info.Size()}

	switch {
	case p.last == nil:
		p.emitEvent(FileEvent{
			Path:      name,
			Operation: OpCreate,
			Timestamp: time.Now(),
		})
	case p.last.modTime != snap.modTime || p.last.size != snap.size:
		p.emitEvent(FileEvent{
			Path:      name,
			Operation: OpModify,
			Timestamp: time.Now(),
		})
	}

	p.last = &snap
	return nil
}

// emitEvent sends an event to the events channel.
// Must be called with lock held.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
