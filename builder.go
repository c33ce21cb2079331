package flowviz

import (
	"time"

	"github.com/deepnoodle-ai/flowviz/slogger"
)

// BuilderOptions are the options used to configure a Builder.
type BuilderOptions struct {
	Logger slogger.Logger
}

// Builder folds an ordered stream of workflow events into an execution
// tree. One Builder handles exactly one workflow: it binds to the workflow
// id carried by the first event it sees and ignores events for other ids.
// Events are applied strictly in the order received; the builder never
// reorders by timestamp. Malformed or out-of-order events are logged at
// debug level and skipped. HandleEvent never panics.
//
// A Builder is not safe for concurrent use. Run one Builder per workflow
// and feed it from a single goroutine.
type Builder struct {
	logger  slogger.Logger
	ir      *WorkflowIR
	stack   []*scopeFrame
	streams map[string]*FlowNode
}

// scopeFrame tracks one open collection scope: the root sequence, an
// explicit parallel/race scope, a decision, or a loop.
type scopeFrame struct {
	node   *FlowNode
	branch *Branch              // active decision branch, decision frames only
	steps  map[string]*FlowNode // step lookup within this scope
}

func newScopeFrame(node *FlowNode) *scopeFrame {
	return &scopeFrame{node: node, steps: make(map[string]*FlowNode)}
}

// collect appends a child to the frame's active collection target. For
// decision frames that is the current branch; steps observed before any
// branch event are attached to a placeholder branch so they are never lost.
func (f *scopeFrame) collect(child *FlowNode) {
	if f.node.Kind == KindDecision {
		if f.branch == nil {
			f.branch = &Branch{Label: "pending"}
			f.node.Branches = append(f.node.Branches, f.branch)
		}
		f.branch.Children = append(f.branch.Children, child)
		return
	}
	f.node.Children = append(f.node.Children, child)
}

// NewBuilder creates a new IR builder.
func NewBuilder(opts BuilderOptions) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &Builder{
		logger:  logger,
		streams: make(map[string]*FlowNode),
	}
}

// IR returns the tree built so far. The tree is live: the builder keeps
// mutating it until a terminal workflow event arrives. Returns nil before
// the first event.
func (b *Builder) IR() *WorkflowIR {
	return b.ir
}

// HandleEvent applies a single event to the tree. Events that cannot be
// applied (wrong workflow, invalid payload, already-terminal target) are
// logged and dropped.
func (b *Builder) HandleEvent(event *WorkflowEvent) {
	if event == nil || event.Type == "" {
		b.logger.Debug("ignoring empty event")
		return
	}
	if b.ir == nil {
		b.ir = NewWorkflowIR(event.WorkflowID)
		b.stack = []*scopeFrame{newScopeFrame(b.ir.Root)}
	} else if b.ir.Metadata.WorkflowID == "" {
		b.ir.Metadata.WorkflowID = event.WorkflowID
	} else if event.WorkflowID != "" && event.WorkflowID != b.ir.Metadata.WorkflowID {
		b.logger.Debug("ignoring event for other workflow",
			"workflow_id", event.WorkflowID,
			"bound_workflow_id", b.ir.Metadata.WorkflowID)
		return
	}
	if b.ir.Terminal() {
		b.logger.Debug("ignoring event after workflow reached terminal state",
			"type", event.Type, "event_id", event.ID)
		return
	}
	if event.Data != nil {
		if err := event.Data.Validate(); err != nil {
			b.logger.Debug("ignoring invalid event",
				"type", event.Type, "event_id", event.ID, "error", err)
			return
		}
	}
	b.touch(event.Timestamp)

	// Events of a known type may arrive with a nil payload (for example
	// from logs written by a producer that omitted the data object).
	// Substitute an empty payload so the type switch still applies them.
	data := event.Data
	if data == nil {
		if payload, ok := newEventData(event.Type); ok {
			data = payload
		}
	}

	switch data := data.(type) {
	case *WorkflowStartedData:
		b.applyWorkflowStarted(event, data)
	case *WorkflowCompletedData:
		b.finishWorkflow(event, StateSuccess, "", data.Outputs)
	case *WorkflowFailedData:
		b.finishWorkflow(event, StateError, data.Error, nil)
	case *WorkflowAbortedData:
		b.finishWorkflow(event, StateAborted, data.Reason, nil)
	case *StepStartedData:
		b.applyStepStarted(event, data)
	case *StepCompletedData:
		b.applyStepCompleted(event, data)
	case *StepFailedData:
		b.applyStepFailed(event, data)
	case *StepRetriedData:
		b.applyStepRetried(event, data)
	case *StepCacheHitData:
		b.applyStepCacheHit(event, data)
	case *StepSkippedData:
		b.applyStepSkipped(event, data)
	case *StepTimedOutData:
		b.applyStepTimedOut(event, data)
	case *ScopeStartedData:
		b.applyScopeStarted(event, data)
	case *ScopeEndedData:
		b.applyScopeEnded(event, data)
	case *DecisionStartedData:
		b.applyDecisionStarted(event, data)
	case *DecisionBranchData:
		b.applyDecisionBranch(event, data)
	case *DecisionEndedData:
		b.applyDecisionEnded(event, data)
	case *LoopStartedData:
		b.applyLoopStarted(event, data)
	case *LoopEndedData:
		b.applyLoopEnded(event, data)
	case *StreamProgressData:
		b.applyStreamProgress(event, data)
	case *GateCheckedData:
		b.applyGateChecked(event, data)
	case *HookBeforeStartData:
		b.applyHookBeforeStart(event, data)
	case *HookAfterStepData:
		b.applyHookAfterStep(event, data)
	default:
		b.logger.Debug("ignoring unknown event type",
			"type", event.Type, "event_id", event.ID)
	}
}

func (b *Builder) touch(ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	b.ir.Metadata.UpdatedAt = ts
}

func (b *Builder) top() *scopeFrame {
	return b.stack[len(b.stack)-1]
}

//// Workflow events //////////////////////////////////////////////////////////

func (b *Builder) applyWorkflowStarted(event *WorkflowEvent, data *WorkflowStartedData) {
	root := b.ir.Root
	root.State = StateRunning
	if root.StartedAt.IsZero() {
		root.StartedAt = event.Timestamp
	}
	if data.Name != "" {
		root.Name = data.Name
		b.ir.Metadata.Name = data.Name
	}
	if data.Inputs != nil {
		root.Input = data.Inputs
	}
}

// finishWorkflow applies a terminal workflow event: it closes any scopes
// left open, settles the root, and runs group detection over the sequential
// sibling lists. After this the tree is read-only.
func (b *Builder) finishWorkflow(event *WorkflowEvent, state NodeState, errMsg string, outputs map[string]any) {
	for len(b.stack) > 1 {
		b.logger.Debug("closing scope left open at workflow end", "scope_id", b.top().node.ID)
		b.finalizeTop(event.Timestamp)
	}
	root := b.ir.Root
	root.State = state
	root.EndedAt = event.Timestamp
	if !root.StartedAt.IsZero() {
		root.Duration = root.EndedAt.Sub(root.StartedAt)
	}
	if errMsg != "" {
		root.Error = errMsg
	}
	if outputs != nil {
		root.Output = outputs
	}

	// A failed or aborted workflow cancels whatever was still in flight.
	if state == StateError || state == StateAborted {
		root.Walk(func(n *FlowNode) {
			if n == root || n.State.Terminal() {
				return
			}
			n.State = StateAborted
			if n.EndedAt.IsZero() {
				n.EndedAt = event.Timestamp
			}
		})
	}

	b.detectGroups(root)
}

// detectGroups runs parallel-group inference over every sequential sibling
// list in the tree: the root sequence and each decision branch. Children of
// explicit parallel/race containers are already concurrent and are left
// alone.
func (b *Builder) detectGroups(node *FlowNode) {
	switch node.Kind {
	case KindWorkflow:
		node.Children = DetectParallelGroups(node.Children)
	case KindDecision:
		for _, branch := range node.Branches {
			branch.Children = DetectParallelGroups(branch.Children)
		}
	}
	for _, child := range node.Children {
		b.detectGroups(child)
	}
	for _, branch := range node.Branches {
		for _, child := range branch.Children {
			b.detectGroups(child)
		}
	}
}

//// Step events //////////////////////////////////////////////////////////////

func stepLookupKey(ref StepRef) string {
	if ref.Key != "" {
		return ref.Key
	}
	return ref.StepID
}

func (b *Builder) applyStepStarted(event *WorkflowEvent, data *StepStartedData) {
	frame := b.top()
	key := stepLookupKey(data.StepRef)
	if node, ok := frame.steps[key]; ok && !node.State.Terminal() {
		// Duplicate start for a live step. Refresh rather than duplicate.
		node.State = StateRunning
		if node.StartedAt.IsZero() {
			node.StartedAt = event.Timestamp
		}
		return
	}
	id := data.StepID
	if id == "" {
		id = NewNodeID()
	} else if prev, ok := frame.steps[key]; ok && prev.ID == id {
		// Same step re-entered in this scope (loop iteration). Node ids
		// stay unique within the tree.
		id = NewNodeID()
	}
	node := &FlowNode{
		ID:           id,
		Kind:         KindStep,
		State:        StateRunning,
		Name:         data.Name,
		Key:          data.Key,
		CacheKey:     data.CacheKey,
		Input:        data.Input,
		TimeoutLimit: data.TimeoutLimit,
		StartedAt:    event.Timestamp,
	}
	frame.steps[key] = node
	frame.collect(node)
}

// resolveStep finds the target step for a non-start step event in the
// innermost scope, creating a placeholder node when the start event was
// never observed (partial streams still render).
func (b *Builder) resolveStep(event *WorkflowEvent, ref StepRef) *FlowNode {
	frame := b.top()
	key := stepLookupKey(ref)
	if node, ok := frame.steps[key]; ok {
		return node
	}
	b.logger.Debug("step event without a matching start",
		"step", key, "type", event.Type)
	id := ref.StepID
	if id == "" {
		id = NewNodeID()
	}
	node := &FlowNode{
		ID:    id,
		Kind:  KindStep,
		State: StateRunning,
		Key:   ref.Key,
	}
	frame.steps[key] = node
	frame.collect(node)
	return node
}

// settleStep moves a step to a terminal state, computing its duration from
// the event-provided value when present and the observed interval
// otherwise. Steps already terminal are left untouched.
func (b *Builder) settleStep(node *FlowNode, event *WorkflowEvent, state NodeState, duration time.Duration) bool {
	if node.State.Terminal() {
		b.logger.Debug("ignoring event for terminal step",
			"step", node.ID, "state", node.State, "type", event.Type)
		return false
	}
	node.State = state
	node.EndedAt = event.Timestamp
	switch {
	case duration > 0:
		node.Duration = duration
	case !node.StartedAt.IsZero():
		node.Duration = node.EndedAt.Sub(node.StartedAt)
	}
	return true
}

func (b *Builder) applyStepCompleted(event *WorkflowEvent, data *StepCompletedData) {
	node := b.resolveStep(event, data.StepRef)
	if b.settleStep(node, event, StateSuccess, data.Duration) {
		node.Output = data.Output
	}
}

func (b *Builder) applyStepFailed(event *WorkflowEvent, data *StepFailedData) {
	node := b.resolveStep(event, data.StepRef)
	if b.settleStep(node, event, StateError, data.Duration) {
		node.Error = data.Error
	}
}

func (b *Builder) applyStepRetried(event *WorkflowEvent, data *StepRetriedData) {
	node := b.resolveStep(event, data.StepRef)
	if node.State.Terminal() {
		b.logger.Debug("ignoring retry for terminal step", "step", node.ID)
		return
	}
	node.Retries++
	if data.Attempt > node.Retries {
		node.Retries = data.Attempt
	}
	node.State = StateRunning
}

func (b *Builder) applyStepCacheHit(event *WorkflowEvent, data *StepCacheHitData) {
	node := b.resolveStep(event, data.StepRef)
	if node.StartedAt.IsZero() {
		node.StartedAt = event.Timestamp
	}
	if b.settleStep(node, event, StateCached, 0) {
		if data.CacheKey != "" {
			node.CacheKey = data.CacheKey
		}
		if data.Output != nil {
			node.Output = data.Output
		}
	}
}

func (b *Builder) applyStepSkipped(event *WorkflowEvent, data *StepSkippedData) {
	node := b.resolveStep(event, data.StepRef)
	if node.StartedAt.IsZero() {
		node.StartedAt = event.Timestamp
	}
	if b.settleStep(node, event, StateSkipped, 0) {
		node.SkipReason = data.Reason
	}
}

func (b *Builder) applyStepTimedOut(event *WorkflowEvent, data *StepTimedOutData) {
	node := b.resolveStep(event, data.StepRef)
	if b.settleStep(node, event, StateError, 0) {
		node.TimedOut = true
		if data.Limit > 0 {
			node.TimeoutLimit = data.Limit
		}
		if node.Error == "" {
			node.Error = "step timed out"
		}
	}
}

//// Scope events /////////////////////////////////////////////////////////////

func (b *Builder) applyScopeStarted(event *WorkflowEvent, data *ScopeStartedData) {
	kind := KindParallel
	if data.Mode == ModeRace {
		kind = KindRace
	}
	node := &FlowNode{
		ID:        data.ScopeID,
		Kind:      kind,
		Mode:      data.Mode,
		Name:      data.Name,
		State:     StateRunning,
		StartedAt: event.Timestamp,
	}
	b.top().collect(node)
	b.stack = append(b.stack, newScopeFrame(node))
}

func (b *Builder) applyScopeEnded(event *WorkflowEvent, data *ScopeEndedData) {
	idx := b.findFrame(func(n *FlowNode) bool {
		return (n.Kind == KindParallel || n.Kind == KindRace) && n.ID == data.ScopeID
	})
	if idx < 0 {
		b.logger.Debug("ignoring end for unknown scope", "scope_id", data.ScopeID)
		return
	}
	for len(b.stack)-1 > idx {
		b.logger.Debug("closing nested scope left open", "scope_id", b.top().node.ID)
		b.finalizeTop(event.Timestamp)
	}
	node := b.top().node
	if node.Kind == KindRace && data.WinnerID != "" {
		b.resolveWinner(node, data.WinnerID, event.Timestamp)
	}
	b.finalizeTop(event.Timestamp)
}

// resolveWinner records the winning child of a race by node id, step key,
// or name, and marks the children it beat as aborted.
func (b *Builder) resolveWinner(node *FlowNode, winnerID string, ts time.Time) {
	var winner *FlowNode
	for _, child := range node.Children {
		if child.ID == winnerID || (child.Key != "" && child.Key == winnerID) || (child.Name != "" && child.Name == winnerID) {
			winner = child
			break
		}
	}
	if winner == nil {
		b.logger.Debug("race winner not found among children", "winner_id", winnerID)
		node.WinnerID = winnerID
		return
	}
	node.WinnerID = winner.ID
	for _, child := range node.Children {
		if child == winner || child.State.Terminal() {
			continue
		}
		child.State = StateAborted
		if child.EndedAt.IsZero() {
			child.EndedAt = ts
		}
	}
}

//// Decision events //////////////////////////////////////////////////////////

func (b *Builder) applyDecisionStarted(event *WorkflowEvent, data *DecisionStartedData) {
	node := &FlowNode{
		ID:        data.DecisionID,
		Kind:      KindDecision,
		Name:      data.Name,
		State:     StateRunning,
		StartedAt: event.Timestamp,
	}
	b.top().collect(node)
	b.stack = append(b.stack, newScopeFrame(node))
}

func (b *Builder) applyDecisionBranch(event *WorkflowEvent, data *DecisionBranchData) {
	idx := b.findFrame(func(n *FlowNode) bool {
		return n.Kind == KindDecision && n.ID == data.DecisionID
	})
	if idx < 0 {
		b.logger.Debug("ignoring branch for unknown decision", "decision_id", data.DecisionID)
		return
	}
	frame := b.stack[idx]
	branch := &Branch{
		Label:     data.Label,
		Condition: data.Condition,
		Taken:     data.Taken,
	}
	frame.node.Branches = append(frame.node.Branches, branch)
	frame.branch = branch
}

func (b *Builder) applyDecisionEnded(event *WorkflowEvent, data *DecisionEndedData) {
	idx := b.findFrame(func(n *FlowNode) bool {
		return n.Kind == KindDecision && n.ID == data.DecisionID
	})
	if idx < 0 {
		b.logger.Debug("ignoring end for unknown decision", "decision_id", data.DecisionID)
		return
	}
	for len(b.stack)-1 > idx {
		b.logger.Debug("closing nested scope left open", "scope_id", b.top().node.ID)
		b.finalizeTop(event.Timestamp)
	}
	b.finalizeTop(event.Timestamp)
}

//// Loop events //////////////////////////////////////////////////////////////

func (b *Builder) applyLoopStarted(event *WorkflowEvent, data *LoopStartedData) {
	node := &FlowNode{
		ID:        data.LoopID,
		Kind:      KindParallel,
		Mode:      ModeLoop,
		Name:      data.Name,
		State:     StateRunning,
		StartedAt: event.Timestamp,
	}
	b.top().collect(node)
	b.stack = append(b.stack, newScopeFrame(node))
}

func (b *Builder) applyLoopEnded(event *WorkflowEvent, data *LoopEndedData) {
	idx := b.findFrame(func(n *FlowNode) bool {
		return n.Mode == ModeLoop && n.ID == data.LoopID
	})
	if idx < 0 {
		b.logger.Debug("ignoring end for unknown loop", "loop_id", data.LoopID)
		return
	}
	for len(b.stack)-1 > idx {
		b.logger.Debug("closing nested scope left open", "scope_id", b.top().node.ID)
		b.finalizeTop(event.Timestamp)
	}
	b.finalizeTop(event.Timestamp)
}

//// Stream events ////////////////////////////////////////////////////////////

func (b *Builder) applyStreamProgress(event *WorkflowEvent, data *StreamProgressData) {
	node, ok := b.streams[data.Namespace]
	if !ok {
		node = &FlowNode{
			ID:        NewNodeID(),
			Kind:      KindStream,
			Name:      data.Namespace,
			Namespace: data.Namespace,
			State:     StateRunning,
			StartedAt: event.Timestamp,
		}
		b.streams[data.Namespace] = node
		b.top().collect(node)
	}
	if node.State.Terminal() {
		b.logger.Debug("ignoring progress for closed stream", "namespace", data.Namespace)
		return
	}
	node.Writes = data.Writes
	node.Reads = data.Reads
	node.Backpressure = data.Backpressure
	if data.State != "" {
		node.StreamState = data.State
	}
	switch data.State {
	case "closed", "completed":
		node.State = StateSuccess
		node.EndedAt = event.Timestamp
		node.Duration = node.EndedAt.Sub(node.StartedAt)
	case "error", "failed":
		node.State = StateError
		node.EndedAt = event.Timestamp
		node.Duration = node.EndedAt.Sub(node.StartedAt)
	}
}

//// Hook events //////////////////////////////////////////////////////////////

func (b *Builder) hooks() *IRHooks {
	if b.ir.Hooks == nil {
		b.ir.Hooks = &IRHooks{}
	}
	return b.ir.Hooks
}

func hookRecord(state NodeState, errMsg string, context map[string]any, at time.Time) *HookRecord {
	return &HookRecord{State: state, Error: errMsg, Context: context, At: at}
}

func (b *Builder) applyGateChecked(event *WorkflowEvent, data *GateCheckedData) {
	state := StateSuccess
	switch {
	case data.Error != "":
		state = StateError
	case !data.Allowed:
		state = StateSkipped
	}
	b.hooks().ShouldRun = hookRecord(state, data.Error, data.Context, event.Timestamp)
}

func (b *Builder) applyHookBeforeStart(event *WorkflowEvent, data *HookBeforeStartData) {
	state := StateSuccess
	if data.Error != "" {
		state = StateError
	}
	b.hooks().BeforeStart = hookRecord(state, data.Error, data.Context, event.Timestamp)
}

func (b *Builder) applyHookAfterStep(event *WorkflowEvent, data *HookAfterStepData) {
	state := StateSuccess
	if data.Error != "" {
		state = StateError
	}
	hooks := b.hooks()
	if hooks.AfterStep == nil {
		hooks.AfterStep = make(map[string]*HookRecord)
	}
	hooks.AfterStep[data.StepKey] = hookRecord(state, data.Error, data.Context, event.Timestamp)
}

//// Frame bookkeeping ////////////////////////////////////////////////////////

// findFrame returns the index of the topmost open frame matching the
// predicate, or -1. The root frame (index 0) is never matched.
func (b *Builder) findFrame(match func(*FlowNode) bool) int {
	for i := len(b.stack) - 1; i > 0; i-- {
		if match(b.stack[i].node) {
			return i
		}
	}
	return -1
}

// finalizeTop settles the top frame's container node and pops it. The root
// frame is never popped.
func (b *Builder) finalizeTop(ts time.Time) {
	if len(b.stack) <= 1 {
		return
	}
	node := b.top().node
	if !node.State.Terminal() {
		if node.Kind == KindDecision {
			node.State = deriveDecisionState(node)
		} else {
			node.State = deriveGroupState(node)
		}
	}
	if node.EndedAt.IsZero() {
		node.EndedAt = ts
	}
	if !node.StartedAt.IsZero() && !node.EndedAt.IsZero() {
		node.Duration = node.EndedAt.Sub(node.StartedAt)
	}
	b.stack = b.stack[:len(b.stack)-1]
}

// deriveDecisionState settles a decision from the outcome of its taken
// branch; a decision with no taken branch settled without error.
func deriveDecisionState(node *FlowNode) NodeState {
	branch := node.TakenBranch()
	if branch == nil {
		return StateSuccess
	}
	for _, child := range branch.Children {
		if child.State == StateError {
			return StateError
		}
	}
	return StateSuccess
}
