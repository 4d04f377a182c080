package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of corpus-file events so one editor save does
// not trigger several rebuilds. Events for the same path arriving within the
// window merge pairwise:
//
//	CREATE + MODIFY = CREATE
//	CREATE + DELETE = (dropped)
//	MODIFY + DELETE = DELETE
//	DELETE + CREATE = MODIFY
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]pendingEvent
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

// pendingEvent remembers the first operation seen for a path; the merge
// rules key off it.
type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer that emits batches after window of quiet.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]pendingEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add merges one event into the pending batch and (re)arms the flush timer.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	existing, ok := d.pending[event.Path]
	if !ok {
		d.pending[event.Path] = pendingEvent{event: event, firstOp: event.Operation}
	} else if merged, keep := mergeEvents(existing, event); keep {
		existing.event = merged
		d.pending[event.Path] = existing
	} else {
		delete(d.pending, event.Path)
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// mergeEvents applies the pairwise rules. keep=false means the pair
// cancelled out (a file created and deleted inside one window).
func mergeEvents(existing pendingEvent, next FileEvent) (FileEvent, bool) {
	switch existing.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return existing.event, true
		case OpDelete:
			return FileEvent{}, false
		}
	case OpDelete:
		if next.Operation == OpCreate {
			next.Operation = OpModify
			return next, true
		}
	}
	// Everything else keeps the newest operation.
	return next, true
}

// flush emits whatever is pending as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]pendingEvent)

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)))
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop halts the debouncer and closes the output channel. Safe to call more
// than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
