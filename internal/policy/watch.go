package policy

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts a background goroutine that calls Reload whenever the
// policy file is written or recreated (editors commonly replace a file via
// rename-into-place, which fsnotify reports as Create on the watched
// directory). Watch is a no-op in disabled mode (no policyPath configured).
// The returned stop function closes the watcher; it is safe to call once.
func (e *Engine) Watch() (stop func(), err error) {
	if e.policyPath == "" {
		return func() {}, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &PolicyError{Op: "watch", Err: err}
	}
	if err := w.Add(filepath.Dir(e.policyPath)); err != nil {
		w.Close()
		return nil, &PolicyError{Op: "watch", Err: err}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(e.policyPath) {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if err := e.Reload(); err != nil {
						e.log.Warn("policy: hot reload failed, keeping previous policy", "path", e.policyPath, "error", err)
					} else {
						e.log.Info("policy: reloaded", "path", e.policyPath)
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				e.log.Warn("policy: watcher error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	stop = func() {
		close(done)
		w.Close()
	}
	return stop, nil
}
