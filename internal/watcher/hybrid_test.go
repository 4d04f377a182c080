package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHybridWatcher_NewHybridWatcher(t *testing.T) {
	// Given: default options
	opts := DefaultOptions()

	// When: creating a hybrid watcher
	w, err := NewHybridWatcher(opts)

	// Then: no error and watcher is valid
	require.NoError(t, err)
	require.NotNil(t, w)
	defer func() { _ = w.Stop() }()
}

func TestHybridWatcher_SimpleCreate(t *testing.T) {
	// This is a minimal test to verify event flow
	tempDir := t.TempDir()
	corpusPath := filepath.Join(tempDir, "corpus.jsonl")

	opts := Options{
		DebounceWindow:  10 * time.Millisecond, // Very short for testing
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		if err := w.Start(ctx, corpusPath); err != nil && err != context.Canceled {
			t.Logf("Start error: %v", err)
		}
	}()

	<-started
	time.Sleep(200 * time.Millisecond) // Wait for watcher to be ready

	// Create the corpus file
	err = os.WriteFile(corpusPath, []byte(`{"doc_id":"a","content":"x"}`+"\n"), 0o644)
	require.NoError(t, err)

	// Wait for event
	select {
	case events := <-w.Events():
		require.NotEmpty(t, events, "expected at least one event")
	case err := <-w.Errors():
		t.Fatalf("Got error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout - no events received")
	}

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsCorpusModification(t *testing.T) {
	// Given: an existing corpus file under watch
	tempDir := t.TempDir()
	corpusPath := filepath.Join(tempDir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpusPath, []byte(`{"doc_id":"a","content":"x"}`+"\n"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, corpusPath)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: the corpus is modified
	grown := `{"doc_id":"a","content":"x"}` + "\n" + `{"doc_id":"b","content":"y"}` + "\n"
	require.NoError(t, os.WriteFile(corpusPath, []byte(grown), 0o644))

	// Then: a MODIFY or CREATE event is detected (fsnotify may report either)
	select {
	case events := <-w.Events():
		require.NotEmpty(t, events)
		var found bool
		for _, e := range events {
			if (e.Operation == OpModify || e.Operation == OpCreate) && e.Path == "corpus.jsonl" {
				found = true
				break
			}
		}
		assert.True(t, found, "expected modify event for corpus.jsonl")
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for modify event")
	}

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsCorpusDeletion(t *testing.T) {
	// Given: an existing corpus file under watch
	tempDir := t.TempDir()
	corpusPath := filepath.Join(tempDir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpusPath, []byte(`{"doc_id":"a","content":"x"}`+"\n"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, corpusPath)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: the corpus is deleted
	require.NoError(t, os.Remove(corpusPath))

	// Then: a DELETE event is detected
	select {
	case events := <-w.Events():
		require.NotEmpty(t, events)
		var found bool
		for _, e := range events {
			if e.Operation == OpDelete && e.Path == "corpus.jsonl" {
				found = true
				break
			}
		}
		assert.True(t, found, "expected DELETE event for corpus.jsonl")
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for delete event")
	}

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_IgnoresSiblingFiles(t *testing.T) {
	// Given: a corpus file under watch
	tempDir := t.TempDir()
	corpusPath := filepath.Join(tempDir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpusPath, []byte(`{"doc_id":"a","content":"x"}`+"\n"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, corpusPath)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: an unrelated sibling file is created
	sibling := filepath.Join(tempDir, "notes.txt")
	require.NoError(t, os.WriteFile(sibling, []byte("scratch"), 0o644))

	// And: the corpus is modified afterwards
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(corpusPath, []byte(`{"doc_id":"b","content":"y"}`+"\n"), 0o644))

	// Then: only corpus events arrive
	var gotCorpus bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case events := <-w.Events():
			for _, e := range events {
				assert.NotEqual(t, "notes.txt", e.Path,
					"should not receive events for sibling files")
				if e.Path == "corpus.jsonl" {
					gotCorpus = true
				}
			}
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotCorpus, "should have received event for corpus.jsonl")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_ConfigChangeEvent(t *testing.T) {
	// Given: a corpus file under watch with a sibling config file
	tempDir := t.TempDir()
	corpusPath := filepath.Join(tempDir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpusPath, []byte(`{"doc_id":"a","content":"x"}`+"\n"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, corpusPath)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: the config file is written
	configPath := filepath.Join(tempDir, "ragtune.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("pipeline:\n  name: default\n"), 0o644))

	// Then: a CONFIG_CHANGE event is detected
	var gotConfig bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case events := <-w.Events():
			for _, e := range events {
				if e.Operation == OpConfigChange && e.Path == "ragtune.yaml" {
					gotConfig = true
					break loop
				}
			}
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotConfig, "expected CONFIG_CHANGE event for ragtune.yaml")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_AtomicReplace(t *testing.T) {
	// Given: a corpus file under watch
	tempDir := t.TempDir()
	corpusPath := filepath.Join(tempDir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpusPath, []byte(`{"doc_id":"a","content":"x"}`+"\n"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, corpusPath)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: the corpus is replaced via write-then-rename (editor save pattern)
	tmpPath := filepath.Join(tempDir, "corpus.jsonl.tmp")
	require.NoError(t, os.WriteFile(tmpPath, []byte(`{"doc_id":"b","content":"y"}`+"\n"), 0o644))
	require.NoError(t, os.Rename(tmpPath, corpusPath))

	// Then: a corpus event survives the rename
	var gotCorpus bool
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case events := <-w.Events():
			for _, e := range events {
				if e.Path == "corpus.jsonl" {
					gotCorpus = true
					break loop
				}
			}
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotCorpus, "expected event for replaced corpus.jsonl")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_Stop_ClosesChannels(t *testing.T) {
	// Given: a hybrid watcher
	opts := DefaultOptions()
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	// When: stopped
	require.NoError(t, w.Stop())

	// Then: events channel is closed
	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestHybridWatcher_DroppedBatches_InitiallyZero(t *testing.T) {
	// Given: a new hybrid watcher
	opts := DefaultOptions()
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	// Then: dropped batches count is zero
	assert.Equal(t, uint64(0), w.DroppedBatches())
}

func TestHybridWatcher_DroppedBatches_IncrementsOnOverflow(t *testing.T) {
	// Given: a hybrid watcher with a tiny buffer
	opts := Options{
		EventBufferSize: 1, // Very small buffer to trigger overflow
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	// When: we emit more batches than the buffer can hold
	// Fill the buffer first
	w.emitEvents([]FileEvent{{Path: "corpus.jsonl", Operation: OpModify}})

	// Now emit more - these should be dropped
	w.emitEvents([]FileEvent{{Path: "corpus.jsonl", Operation: OpModify}})
	w.emitEvents([]FileEvent{{Path: "corpus.jsonl", Operation: OpModify}})

	// Then: dropped batches count reflects the drops
	assert.Equal(t, uint64(2), w.DroppedBatches())
}
