// Package eventlog reads workflow event streams from JSON Lines log
// files: bulk reads for replay, glob discovery across a log directory,
// and live tailing of a file an execution engine is still appending to.
// The package is read-only; it never writes or modifies logs.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/slogger"
)

// maxLineBytes bounds a single event line. Events carry captured samples,
// not full payloads, so anything larger is treated as malformed.
const maxLineBytes = 4 * 1024 * 1024

// ReadOptions configure bulk reads.
type ReadOptions struct {
	Logger slogger.Logger
}

// Read decodes a JSONL event stream. Malformed lines are logged at debug
// level and skipped, so a partially corrupted log still replays; only a
// read failure on the underlying source returns an error.
func Read(r io.Reader, opts ReadOptions) ([]*flowviz.WorkflowEvent, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	var events []*flowviz.WorkflowEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event flowviz.WorkflowEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			logger.Debug("skipping malformed event line", "line", line, "error", err)
			continue
		}
		if event.Type == "" {
			logger.Debug("skipping event line without a type", "line", line)
			continue
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// ReadFile reads a JSONL event log from disk.
func ReadFile(path string, opts ReadOptions) ([]*flowviz.WorkflowEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()
	return Read(file, opts)
}

// Replay feeds every event from a log file to the handler in order,
// typically a Builder's or Controller's HandleEvent.
func Replay(path string, opts ReadOptions, handle func(*flowviz.WorkflowEvent)) error {
	events, err := ReadFile(path, opts)
	if err != nil {
		return err
	}
	for _, event := range events {
		handle(event)
	}
	return nil
}

// Discover finds event logs under root matching a doublestar pattern
// (for example "**/events.jsonl"), returned as sorted absolute paths.
func Discover(root, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid log pattern %q: %w", pattern, err)
	}
	paths := make([]string, 0, len(matches))
	for _, match := range matches {
		full := filepath.Join(root, filepath.FromSlash(match))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		paths = append(paths, full)
	}
	sort.Strings(paths)
	return paths, nil
}

// statSize returns a file's current size, or 0 when it cannot be read.
func statSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
