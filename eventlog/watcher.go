package eventlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/slogger"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of write notifications for one file.
const DefaultDebounce = 100 * time.Millisecond

// WatcherOptions configure a live log tail.
type WatcherOptions struct {
	// Path is the JSONL event log to follow.
	Path string

	// Handler receives each appended event in order.
	Handler func(*flowviz.WorkflowEvent)

	// Debounce is the quiet period after a write notification before the
	// new bytes are read.
	Debounce time.Duration

	Logger slogger.Logger
}

// Watcher tails a live event log: it delivers the events already in the
// file, then follows appends until the context is cancelled or Close is
// called. A log that is truncated and rewritten is re-read from the start.
type Watcher struct {
	path     string
	handler  func(*flowviz.WorkflowEvent)
	debounce time.Duration
	logger   slogger.Logger
	watcher  *fsnotify.Watcher
	offset   int64
}

// NewWatcher creates a watcher for the given log file. The file's
// directory must exist; the file itself may appear later.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("log path is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory rather than the file so creation and rename
	// are observed too.
	if err := fsWatcher.Add(filepath.Dir(opts.Path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch log directory: %w", err)
	}
	return &Watcher{
		path:     opts.Path,
		handler:  opts.Handler,
		debounce: debounce,
		logger:   logger,
		watcher:  fsWatcher,
	}, nil
}

// Start delivers the log's existing events and then follows appends until
// the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.drain()

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Debounce: reset the quiet-period timer on every write.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.drain()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// drain reads events appended since the last read and hands them to the
// handler. Only newline-terminated data is consumed: a line split across
// two write bursts stays in the file until its terminator arrives, so the
// offset never lands mid-event. Truncation resets the read offset.
func (w *Watcher) drain() {
	size := statSize(w.path)
	if size < w.offset {
		w.logger.Debug("event log truncated, re-reading", "path", w.path)
		w.offset = 0
	}
	if size == w.offset {
		return
	}
	file, err := os.Open(w.path)
	if err != nil {
		w.logger.Debug("event log not readable yet", "path", w.path, "error", err)
		return
	}
	defer file.Close()
	if _, err := file.Seek(w.offset, 0); err != nil {
		w.logger.Warn("failed to seek event log", "path", w.path, "error", err)
		return
	}
	buf := make([]byte, size-w.offset)
	if _, err := io.ReadFull(file, buf); err != nil {
		w.logger.Warn("failed to read appended events", "path", w.path, "error", err)
		return
	}
	cut := bytes.LastIndexByte(buf, '\n')
	if cut < 0 {
		// Partial line only; wait for the rest.
		return
	}
	events, err := Read(bytes.NewReader(buf[:cut+1]), ReadOptions{Logger: w.logger})
	if err != nil {
		w.logger.Warn("failed to decode appended events", "path", w.path, "error", err)
	}
	w.offset += int64(cut + 1)
	for _, event := range events {
		w.handler(event)
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
