package flowviz

import (
	"encoding/json"
	"fmt"
	"time"
)

// newEventData returns an empty payload struct for the given event type.
// The second return is false for types this package does not know, which
// callers treat as "carry no payload" rather than an error, so that event
// streams written by newer producers still decode.
func newEventData(eventType EventType) (EventData, bool) {
	switch eventType {
	case EventWorkflowStarted:
		return &WorkflowStartedData{}, true
	case EventWorkflowCompleted:
		return &WorkflowCompletedData{}, true
	case EventWorkflowFailed:
		return &WorkflowFailedData{}, true
	case EventWorkflowAborted:
		return &WorkflowAbortedData{}, true
	case EventStepStarted:
		return &StepStartedData{}, true
	case EventStepCompleted:
		return &StepCompletedData{}, true
	case EventStepFailed:
		return &StepFailedData{}, true
	case EventStepRetried:
		return &StepRetriedData{}, true
	case EventStepCacheHit:
		return &StepCacheHitData{}, true
	case EventStepSkipped:
		return &StepSkippedData{}, true
	case EventStepTimedOut:
		return &StepTimedOutData{}, true
	case EventScopeStarted:
		return &ScopeStartedData{}, true
	case EventScopeEnded:
		return &ScopeEndedData{}, true
	case EventDecisionStarted:
		return &DecisionStartedData{}, true
	case EventDecisionBranch:
		return &DecisionBranchData{}, true
	case EventDecisionEnded:
		return &DecisionEndedData{}, true
	case EventLoopStarted:
		return &LoopStartedData{}, true
	case EventLoopEnded:
		return &LoopEndedData{}, true
	case EventStreamProgress:
		return &StreamProgressData{}, true
	case EventGateChecked:
		return &GateCheckedData{}, true
	case EventHookBeforeStart:
		return &HookBeforeStartData{}, true
	case EventHookAfterStep:
		return &HookAfterStepData{}, true
	}
	return nil, false
}

// UnmarshalJSON decodes a workflow event, selecting the payload type from
// the event's type tag. Payloads for unknown event types are dropped, not
// rejected.
func (e *WorkflowEvent) UnmarshalJSON(data []byte) error {
	type envelope struct {
		ID         string          `json:"id"`
		WorkflowID string          `json:"workflow_id"`
		Sequence   int64           `json:"sequence"`
		Timestamp  time.Time       `json:"timestamp"`
		Type       EventType       `json:"type"`
		Data       json.RawMessage `json:"data,omitempty"`
	}
	var raw envelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	e.ID = raw.ID
	e.WorkflowID = raw.WorkflowID
	e.Sequence = raw.Sequence
	e.Timestamp = raw.Timestamp
	e.Type = raw.Type
	e.Data = nil

	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}
	payload, ok := newEventData(raw.Type)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw.Data, payload); err != nil {
		return fmt.Errorf("failed to unmarshal %s event data: %w", raw.Type, err)
	}
	e.Data = payload
	return nil
}
