// Package workflow implements the Workflow Tracker (C7): it groups the
// subtask reference codes spawned from one decomposition so their results
// can be aggregated back to the original requester, and serializes result
// writes per workflow so concurrent subtask completions never race on the
// same WorkflowRecord. Grounded on the teacher's bid-aggregation pass in
// optimizer.go, which likewise folds many independent results into one
// ranked decision behind a single mutex per auction.
package workflow

import (
	"sync"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/types"
)

type entry struct {
	mu      sync.Mutex
	record  types.WorkflowRecord
	results map[string]types.Envelope // subtask ref code string -> result
}

// Tracker owns the parent->WorkflowRecord map and a reverse index from every
// subtask reference code back to its parent, so a router handling a subtask
// result only needs the subtask's own reference code to find its workflow.
type Tracker struct {
	mu          sync.RWMutex
	byParent    map[string]*entry
	subtaskToParent map[string]string
}

func New() *Tracker {
	return &Tracker{
		byParent:        make(map[string]*entry),
		subtaskToParent: make(map[string]string),
	}
}

// Create registers rec and indexes each of its subtask reference codes back
// to rec.ReferenceCode. A subtask reference code must never equal any
// parent's reference code (§3 invariant); callers are responsible for
// minting distinct reference codes via the Reference Code Service.
func (t *Tracker) Create(rec types.WorkflowRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent := rec.ReferenceCode.String()
	t.byParent[parent] = &entry{record: rec, results: make(map[string]types.Envelope)}
	for _, sub := range rec.SubtaskReferenceCodes {
		t.subtaskToParent[sub.String()] = parent
	}
}

// FindByParent returns the workflow for its own reference code.
func (t *Tracker) FindByParent(ref types.ReferenceCode) (types.WorkflowRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byParent[ref.String()]
	if !ok {
		return types.WorkflowRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, true
}

// FindBySubtask resolves a subtask reference code back to its parent
// workflow.
func (t *Tracker) FindBySubtask(subtaskRef types.ReferenceCode) (types.WorkflowRecord, bool) {
	t.mu.RLock()
	parent, ok := t.subtaskToParent[subtaskRef.String()]
	if !ok {
		t.mu.RUnlock()
		return types.WorkflowRecord{}, false
	}
	e, ok := t.byParent[parent]
	t.mu.RUnlock()
	if !ok {
		return types.WorkflowRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, true
}

// UpdateStatus replaces the workflow's status, stamping CompletedAt when
// transitioning to Completed or Failed.
func (t *Tracker) UpdateStatus(ref types.ReferenceCode, status types.WorkflowStatus, completedAt time.Time) bool {
	t.mu.RLock()
	e, ok := t.byParent[ref.String()]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record.Status = status
	if status == types.WorkflowCompleted || status == types.WorkflowFailed {
		e.record.CompletedAt = &completedAt
	}
	return true
}

// StoreSubtaskResult records the reply envelope for one subtask, serialized
// per workflow so two subtasks completing at once never interleave writes
// to the same WorkflowRecord.
func (t *Tracker) StoreSubtaskResult(parentRef, subtaskRef types.ReferenceCode, result types.Envelope) bool {
	t.mu.RLock()
	e, ok := t.byParent[parentRef.String()]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[subtaskRef.String()] = result
	return true
}

// GetCompletedResults returns every subtask result recorded so far for
// parentRef, keyed by subtask reference code string.
func (t *Tracker) GetCompletedResults(parentRef types.ReferenceCode) map[string]types.Envelope {
	t.mu.RLock()
	e, ok := t.byParent[parentRef.String()]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]types.Envelope, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

// AllSubtasksComplete reports whether every subtask listed on the workflow
// record has a stored result.
func (t *Tracker) AllSubtasksComplete(parentRef types.ReferenceCode) bool {
	t.mu.RLock()
	e, ok := t.byParent[parentRef.String()]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.record.SubtaskReferenceCodes {
		if _, done := e.results[sub.String()]; !done {
			return false
		}
	}
	return true
}
