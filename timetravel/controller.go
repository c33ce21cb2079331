// Package timetravel records one immutable snapshot of a workflow's
// execution tree per applied event and replays the sequence with
// seek/play/pause controls, so an execution can be inspected at any point
// in its history.
package timetravel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/slogger"
	"github.com/pmezard/go-difflib/difflib"
)

// DefaultInterval is the playback tick used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// ControllerOptions are the options used to configure a Controller.
type ControllerOptions struct {
	// Builder receives the events. A fresh one is created when nil.
	Builder *flowviz.Builder

	// Interval between playback ticks at speed 1.0.
	Interval time.Duration

	// Speed is the playback multiplier. 2.0 plays twice as fast.
	Speed float64

	Logger slogger.Logger
}

// ControllerState is a point-in-time view of the controller.
type ControllerState struct {
	Snapshots    []*flowviz.WorkflowIR
	CurrentIndex int
	IsPlaying    bool
}

// Controller wraps a Builder and appends one deep-copy snapshot of the
// tree per applied event, regardless of recording mode. Recording mode
// only controls whether the cursor auto-follows the newest snapshot.
// Playback advances the cursor on a timer and stops by itself at the last
// snapshot. All methods are safe for concurrent use.
type Controller struct {
	mutex     sync.Mutex
	builder   *flowviz.Builder
	interval  time.Duration
	speed     float64
	logger    slogger.Logger
	snapshots []*flowviz.WorkflowIR
	current   int
	recording bool
	playing   bool
	stop      chan struct{}
}

// NewController creates a time-travel controller. Recording (cursor
// auto-follow) starts enabled.
func NewController(opts ControllerOptions) *Controller {
	builder := opts.Builder
	if builder == nil {
		builder = flowviz.NewBuilder(flowviz.BuilderOptions{Logger: opts.Logger})
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &Controller{
		builder:   builder,
		interval:  interval,
		speed:     speed,
		logger:    logger,
		recording: true,
	}
}

// HandleEvent applies the event to the underlying builder and appends a
// snapshot of the resulting tree.
func (c *Controller) HandleEvent(event *flowviz.WorkflowEvent) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.builder.HandleEvent(event)
	ir := c.builder.IR()
	if ir == nil {
		c.logger.Debug("no tree to snapshot yet")
		return
	}
	c.snapshots = append(c.snapshots, ir.Copy())
	if c.recording {
		c.current = len(c.snapshots) - 1
	}
}

// Snapshot returns the snapshot at the cursor, or nil when none exist.
func (c *Controller) Snapshot() *flowviz.WorkflowIR {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.snapshots) == 0 {
		return nil
	}
	return c.snapshots[c.current]
}

// Seek moves the cursor to the given snapshot index, clamped to the valid
// range. Seeking an empty history leaves the cursor at 0.
func (c *Controller) Seek(index int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.current = clampIndex(index, len(c.snapshots))
}

// StartRecording re-enables cursor auto-follow and jumps the cursor to the
// newest snapshot.
func (c *Controller) StartRecording() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.recording = true
	c.current = clampIndex(len(c.snapshots)-1, len(c.snapshots))
}

// StopRecording disables cursor auto-follow. Snapshots keep accumulating.
func (c *Controller) StopRecording() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.recording = false
}

// Play starts advancing the cursor from its current position, one snapshot
// per tick, stopping automatically at the last snapshot. Calling Play
// while already playing, or before any snapshot exists, is a no-op.
func (c *Controller) Play() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.playing {
		return
	}
	c.playing = true
	c.stop = make(chan struct{})
	go c.run(c.stop)
}

// Pause stops playback. Safe to call when not playing.
func (c *Controller) Pause() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pauseLocked()
}

func (c *Controller) pauseLocked() {
	if !c.playing {
		return
	}
	c.playing = false
	close(c.stop)
	c.stop = nil
}

// run is the playback loop. It owns a single ticker and exits when the
// stop channel closes or the cursor reaches the last snapshot.
func (c *Controller) run(stop chan struct{}) {
	ticker := time.NewTicker(time.Duration(float64(c.interval) / c.speed))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.advance() {
				return
			}
		}
	}
}

// advance moves the cursor one snapshot forward. It reports false once the
// cursor is at (or past) the last snapshot, after flipping the controller
// out of the playing state.
func (c *Controller) advance() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.playing {
		return false
	}
	if c.current >= len(c.snapshots)-1 {
		c.playing = false
		c.stop = nil
		return false
	}
	c.current++
	return true
}

// State returns a copy of the controller's current state. The snapshot
// slice is copied; the snapshots themselves are immutable.
func (c *Controller) State() ControllerState {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	snapshots := make([]*flowviz.WorkflowIR, len(c.snapshots))
	copy(snapshots, c.snapshots)
	return ControllerState{
		Snapshots:    snapshots,
		CurrentIndex: c.current,
		IsPlaying:    c.playing,
	}
}

// Close stops playback. The controller remains usable for seeking.
func (c *Controller) Close() {
	c.Pause()
}

// Diff renders two snapshots with the given function and returns a unified
// diff of the results, for inspecting what a span of events changed.
func (c *Controller) Diff(from, to int, render func(*flowviz.WorkflowIR) string) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if render == nil {
		return "", fmt.Errorf("render function is required")
	}
	count := len(c.snapshots)
	if from < 0 || from >= count {
		return "", fmt.Errorf("snapshot index %d out of range [0, %d)", from, count)
	}
	if to < 0 || to >= count {
		return "", fmt.Errorf("snapshot index %d out of range [0, %d)", to, count)
	}
	before := render(c.snapshots[from])
	after := render(c.snapshots[to])

	diff := difflib.UnifiedDiff{
		A:        strings.SplitAfter(before, "\n"),
		B:        strings.SplitAfter(after, "\n"),
		FromFile: fmt.Sprintf("snapshot-%d", from),
		ToFile:   fmt.Sprintf("snapshot-%d", to),
		Context:  3,
	}
	result, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("failed to generate diff: %w", err)
	}
	return result, nil
}

func clampIndex(index, count int) int {
	if index < 0 {
		return 0
	}
	if count == 0 {
		return 0
	}
	if index > count-1 {
		return count - 1
	}
	return index
}
