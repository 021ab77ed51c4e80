package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Signal file names inside the signals directory.
const (
	StopFile  = "stop"
	PauseFile = "pause"
)

// SignalWatcher lets another process stop or pause a running batch by
// creating files in a signals directory. A stop is sticky; a pause lasts
// while the pause file exists.
type SignalWatcher struct {
	dir    string
	logger hclog.Logger

	mu         sync.RWMutex
	stopSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewSignalWatcher creates the signals directory and starts watching it.
func NewSignalWatcher(dir string, logger hclog.Logger) (*SignalWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	sw := &SignalWatcher{
		dir:    dir,
		logger: logger.Named("signals"),
		done:   make(chan struct{}),
	}

	// Start file watcher for immediate signals
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - ShouldStop falls back to stat
		sw.logger.Debug("file watcher unavailable, polling signals", "error", err)
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		sw.logger.Debug("cannot watch signals directory, polling signals", "error", err)
		return sw, nil
	}
	sw.watcher = watcher

	go sw.watch()

	return sw, nil
}

// watch monitors the signals directory for stop files.
func (sw *SignalWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == StopFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.mu.Lock()
				sw.stopSignal = true
				sw.mu.Unlock()
				sw.logger.Info("stop signal received")
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("signal watcher error", "error", err)
		}
	}
}

// Dir returns the signals directory.
func (sw *SignalWatcher) Dir() string {
	return sw.dir
}

// ShouldStop returns true if a stop signal has been received.
func (sw *SignalWatcher) ShouldStop() bool {
	// Also check file directly in case watcher missed it
	if _, err := os.Stat(filepath.Join(sw.dir, StopFile)); err == nil {
		sw.mu.Lock()
		sw.stopSignal = true
		sw.mu.Unlock()
	}

	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.stopSignal
}

// ShouldPause returns true while the pause file exists.
func (sw *SignalWatcher) ShouldPause() bool {
	_, err := os.Stat(filepath.Join(sw.dir, PauseFile))
	return err == nil
}

// WaitWhilePaused blocks until the pause file is removed, a stop arrives or
// ctx is done. It returns false if the batch should not continue.
func (sw *SignalWatcher) WaitWhilePaused(ctx context.Context, poll time.Duration) bool {
	logged := false
	for sw.ShouldPause() {
		if !logged {
			sw.logger.Info("batch paused", "remove", filepath.Join(sw.dir, PauseFile))
			logged = true
		}
		if sw.ShouldStop() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
	if logged {
		sw.logger.Info("batch resumed")
	}
	return !sw.ShouldStop()
}

// SendStop creates a stop signal file.
func (sw *SignalWatcher) SendStop() error {
	return SendSignal(sw.dir, StopFile)
}

// SendPause creates a pause signal file.
func (sw *SignalWatcher) SendPause() error {
	return SendSignal(sw.dir, PauseFile)
}

// SendSignal creates the named signal file in dir.
func SendSignal(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes all signal files and resets signal state.
func (sw *SignalWatcher) ClearSignals() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.stopSignal = false

	os.Remove(filepath.Join(sw.dir, StopFile))
	os.Remove(filepath.Join(sw.dir, PauseFile))
}

// Close shuts down the watcher. It is safe to call more than once.
func (sw *SignalWatcher) Close() {
	sw.once.Do(func() {
		close(sw.done)
		if sw.watcher != nil {
			sw.watcher.Close()
		}
	})
}
