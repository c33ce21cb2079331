package flowviz

import (
	"fmt"
	"log"
	"time"

	"go.jetify.com/typeid"
)

// NewWorkflowID creates a new workflow id
func NewWorkflowID() string {
	value, err := typeid.WithPrefix("wf")
	if err != nil {
		log.Fatalf("error creating new id: %v", err)
	}
	return value.String()
}

// NewEventID creates a new event id
func NewEventID() string {
	value, err := typeid.WithPrefix("event")
	if err != nil {
		log.Fatalf("error creating new id: %v", err)
	}
	return value.String()
}

// NewNodeID creates a new flow node id
func NewNodeID() string {
	value, err := typeid.WithPrefix("node")
	if err != nil {
		log.Fatalf("error creating new id: %v", err)
	}
	return value.String()
}

// EventType represents the type of workflow lifecycle event
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowAborted   EventType = "workflow_aborted"

	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventStepRetried   EventType = "step_retried"
	EventStepCacheHit  EventType = "step_cache_hit"
	EventStepSkipped   EventType = "step_skipped"
	EventStepTimedOut  EventType = "step_timed_out"

	// Explicit concurrency scope boundaries
	EventScopeStarted EventType = "scope_started"
	EventScopeEnded   EventType = "scope_ended"

	// Conditional branch points
	EventDecisionStarted EventType = "decision_started"
	EventDecisionBranch  EventType = "decision_branch"
	EventDecisionEnded   EventType = "decision_ended"

	// Loop markers
	EventLoopStarted EventType = "loop_started"
	EventLoopEnded   EventType = "loop_ended"

	// Stream progress
	EventStreamProgress EventType = "stream_progress"

	// Lifecycle hooks
	EventGateChecked     EventType = "gate_checked"
	EventHookBeforeStart EventType = "hook_before_start"
	EventHookAfterStep   EventType = "hook_after_step"
)

func (t EventType) String() string {
	return string(t)
}

// ScopeMode describes how the children of a concurrency scope relate to
// each other.
type ScopeMode string

const (
	ModeAll        ScopeMode = "all"
	ModeAllSettled ScopeMode = "allSettled"
	ModeRace       ScopeMode = "race"

	// ModeLoop marks containers produced by loop markers rather than by
	// scope events. Scope events never carry it.
	ModeLoop ScopeMode = "loop"
)

func validScopeMode(mode ScopeMode) bool {
	switch mode {
	case ModeAll, ModeAllSettled, ModeRace:
		return true
	}
	return false
}

// EventData represents the interface that all typed event data must implement
type EventData interface {
	EventType() EventType
	Validate() error
}

// WorkflowStartedData contains data for workflow started events
type WorkflowStartedData struct {
	Name   string         `json:"name,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

func (d *WorkflowStartedData) EventType() EventType { return EventWorkflowStarted }
func (d *WorkflowStartedData) Validate() error      { return nil }

// WorkflowCompletedData contains data for workflow completed events
type WorkflowCompletedData struct {
	Outputs map[string]any `json:"outputs,omitempty"`
}

func (d *WorkflowCompletedData) EventType() EventType { return EventWorkflowCompleted }
func (d *WorkflowCompletedData) Validate() error      { return nil }

// WorkflowFailedData contains data for workflow failed events
type WorkflowFailedData struct {
	Error string `json:"error"`
}

func (d *WorkflowFailedData) EventType() EventType { return EventWorkflowFailed }
func (d *WorkflowFailedData) Validate() error {
	if d.Error == "" {
		return fmt.Errorf("error is required")
	}
	return nil
}

// WorkflowAbortedData contains data for workflow aborted events
type WorkflowAbortedData struct {
	Reason string `json:"reason,omitempty"`
}

func (d *WorkflowAbortedData) EventType() EventType { return EventWorkflowAborted }
func (d *WorkflowAbortedData) Validate() error      { return nil }

// StepRef identifies the step a step event belongs to. Key is the stable
// key assigned by the workflow author; StepID is the engine-assigned id
// used as a fallback when no key exists.
type StepRef struct {
	StepID string `json:"step_id,omitempty"`
	Key    string `json:"key,omitempty"`
}

func (r StepRef) validate() error {
	if r.StepID == "" && r.Key == "" {
		return fmt.Errorf("step key or step id is required")
	}
	return nil
}

// StepStartedData contains data for step started events
type StepStartedData struct {
	StepRef
	Name         string        `json:"name,omitempty"`
	CacheKey     string        `json:"cache_key,omitempty"`
	Input        any           `json:"input,omitempty"`
	TimeoutLimit time.Duration `json:"timeout_limit,omitempty"`
}

func (d *StepStartedData) EventType() EventType { return EventStepStarted }
func (d *StepStartedData) Validate() error      { return d.StepRef.validate() }

// StepCompletedData contains data for step completed events
type StepCompletedData struct {
	StepRef
	Output   any           `json:"output,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

func (d *StepCompletedData) EventType() EventType { return EventStepCompleted }
func (d *StepCompletedData) Validate() error      { return d.StepRef.validate() }

// StepFailedData contains data for step failed events
type StepFailedData struct {
	StepRef
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration,omitempty"`
}

func (d *StepFailedData) EventType() EventType { return EventStepFailed }
func (d *StepFailedData) Validate() error {
	if err := d.StepRef.validate(); err != nil {
		return err
	}
	if d.Error == "" {
		return fmt.Errorf("error is required")
	}
	return nil
}

// StepRetriedData contains data for step retried events
type StepRetriedData struct {
	StepRef
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay,omitempty"`
}

func (d *StepRetriedData) EventType() EventType { return EventStepRetried }
func (d *StepRetriedData) Validate() error      { return d.StepRef.validate() }

// StepCacheHitData contains data for step cache hit events
type StepCacheHitData struct {
	StepRef
	CacheKey string `json:"cache_key,omitempty"`
	Output   any    `json:"output,omitempty"`
}

func (d *StepCacheHitData) EventType() EventType { return EventStepCacheHit }
func (d *StepCacheHitData) Validate() error      { return d.StepRef.validate() }

// StepSkippedData contains data for step skipped events
type StepSkippedData struct {
	StepRef
	Reason string `json:"reason,omitempty"`
}

func (d *StepSkippedData) EventType() EventType { return EventStepSkipped }
func (d *StepSkippedData) Validate() error      { return d.StepRef.validate() }

// StepTimedOutData contains data for step timed out events
type StepTimedOutData struct {
	StepRef
	Limit time.Duration `json:"limit,omitempty"`
}

func (d *StepTimedOutData) EventType() EventType { return EventStepTimedOut }
func (d *StepTimedOutData) Validate() error      { return d.StepRef.validate() }

// ScopeStartedData contains data for scope started events
type ScopeStartedData struct {
	ScopeID string    `json:"scope_id"`
	Mode    ScopeMode `json:"mode"`
	Name    string    `json:"name,omitempty"`
}

func (d *ScopeStartedData) EventType() EventType { return EventScopeStarted }
func (d *ScopeStartedData) Validate() error {
	if d.ScopeID == "" {
		return fmt.Errorf("scope_id is required")
	}
	if !validScopeMode(d.Mode) {
		return fmt.Errorf("invalid scope mode: %q", d.Mode)
	}
	return nil
}

// ScopeEndedData contains data for scope ended events
type ScopeEndedData struct {
	ScopeID string `json:"scope_id"`

	// WinnerID names the winning child of a race scope, by node id or
	// step key. Ignored for other modes.
	WinnerID string `json:"winner_id,omitempty"`
}

func (d *ScopeEndedData) EventType() EventType { return EventScopeEnded }
func (d *ScopeEndedData) Validate() error {
	if d.ScopeID == "" {
		return fmt.Errorf("scope_id is required")
	}
	return nil
}

// DecisionStartedData contains data for decision started events
type DecisionStartedData struct {
	DecisionID string `json:"decision_id"`
	Name       string `json:"name,omitempty"`
}

func (d *DecisionStartedData) EventType() EventType { return EventDecisionStarted }
func (d *DecisionStartedData) Validate() error {
	if d.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	return nil
}

// DecisionBranchData contains data for decision branch events
type DecisionBranchData struct {
	DecisionID string `json:"decision_id"`
	Label      string `json:"label"`
	Condition  string `json:"condition,omitempty"`
	Taken      bool   `json:"taken"`
}

func (d *DecisionBranchData) EventType() EventType { return EventDecisionBranch }
func (d *DecisionBranchData) Validate() error {
	if d.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	if d.Label == "" {
		return fmt.Errorf("label is required")
	}
	return nil
}

// DecisionEndedData contains data for decision ended events
type DecisionEndedData struct {
	DecisionID string `json:"decision_id"`
}

func (d *DecisionEndedData) EventType() EventType { return EventDecisionEnded }
func (d *DecisionEndedData) Validate() error {
	if d.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	return nil
}

// LoopStartedData contains data for loop started events
type LoopStartedData struct {
	LoopID string `json:"loop_id"`
	Name   string `json:"name,omitempty"`
}

func (d *LoopStartedData) EventType() EventType { return EventLoopStarted }
func (d *LoopStartedData) Validate() error {
	if d.LoopID == "" {
		return fmt.Errorf("loop_id is required")
	}
	return nil
}

// LoopEndedData contains data for loop ended events
type LoopEndedData struct {
	LoopID string `json:"loop_id"`
}

func (d *LoopEndedData) EventType() EventType { return EventLoopEnded }
func (d *LoopEndedData) Validate() error {
	if d.LoopID == "" {
		return fmt.Errorf("loop_id is required")
	}
	return nil
}

// StreamProgressData contains data for stream progress events
type StreamProgressData struct {
	Namespace    string `json:"namespace"`
	Writes       int64  `json:"writes,omitempty"`
	Reads        int64  `json:"reads,omitempty"`
	State        string `json:"state,omitempty"`
	Backpressure bool   `json:"backpressure,omitempty"`
}

func (d *StreamProgressData) EventType() EventType { return EventStreamProgress }
func (d *StreamProgressData) Validate() error {
	if d.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	return nil
}

// GateCheckedData contains data for pre-run gate events
type GateCheckedData struct {
	Allowed bool           `json:"allowed"`
	Error   string         `json:"error,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (d *GateCheckedData) EventType() EventType { return EventGateChecked }
func (d *GateCheckedData) Validate() error      { return nil }

// HookBeforeStartData contains data for before-start hook events
type HookBeforeStartData struct {
	Error   string         `json:"error,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (d *HookBeforeStartData) EventType() EventType { return EventHookBeforeStart }
func (d *HookBeforeStartData) Validate() error      { return nil }

// HookAfterStepData contains data for after-step hook events
type HookAfterStepData struct {
	StepKey string         `json:"step_key"`
	Error   string         `json:"error,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (d *HookAfterStepData) EventType() EventType { return EventHookAfterStep }
func (d *HookAfterStepData) Validate() error {
	if d.StepKey == "" {
		return fmt.Errorf("step_key is required")
	}
	return nil
}

// WorkflowEvent represents a single event in a workflow's execution history
type WorkflowEvent struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	Data       EventData `json:"data,omitempty"`
}

// NewEvent creates a workflow event wrapping the given typed data, stamped
// with a fresh id and the current time. The caller assigns Sequence.
func NewEvent(workflowID string, data EventData) *WorkflowEvent {
	event := &WorkflowEvent{
		ID:         NewEventID(),
		WorkflowID: workflowID,
		Timestamp:  time.Now(),
		Data:       data,
	}
	if data != nil {
		event.Type = data.EventType()
	}
	return event
}

// Validate validates the workflow event
func (e *WorkflowEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.WorkflowID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if e.Data != nil {
		if err := e.Data.Validate(); err != nil {
			return fmt.Errorf("event data validation failed: %w", err)
		}
		if e.Data.EventType() != e.Type {
			return fmt.Errorf("event data type %s does not match event type %s", e.Data.EventType(), e.Type)
		}
	}
	return nil
}
