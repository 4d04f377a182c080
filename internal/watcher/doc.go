// Package watcher provides real-time corpus file watching with automatic
// debouncing.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify on the corpus file's parent directory, which survives
//     the write-then-rename saves editors and generators use
//   - Fallback: Polling for environments where fsnotify fails (network mounts,
//     some container volumes)
//
// Events are debounced to coalesce rapid successive writes, so one corpus
// regeneration triggers one reindex rather than dozens.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "data/corpus.jsonl"); err != nil {
//	    return err
//	}
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        switch event.Operation {
//	        case watcher.OpModify:
//	            // Reindex the corpus
//	        case watcher.OpDelete:
//	            // Corpus removed; wait for it to reappear
//	        }
//	    }
//	}
package watcher
