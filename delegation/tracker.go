// Package delegation implements the Delegation Tracker (C5): records of
// outstanding work assigned to an agent, replaced wholesale on each status
// transition rather than mutated in place, matching the immutable-record
// discipline the teacher uses for its TaskSpec/DelegationRecord lifecycle in
// engine.go's storeData/retrieveData pair.
package delegation

import (
	"sync"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/types"
)

// Tracker stores DelegationRecords keyed by their ReferenceCode. There is no
// secondary index: GetByAssignee and GetOverdue scan every record.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]types.DelegationRecord
}

func New() *Tracker {
	return &Tracker{records: make(map[string]types.DelegationRecord)}
}

// Delegate stores a new (or replacement) DelegationRecord.
func (t *Tracker) Delegate(rec types.DelegationRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.ReferenceCode.String()] = rec
}

// UpdateStatus replaces the record for refCode with one carrying the new
// status, leaving every other field untouched. If status is
// DelegationComplete, completedAt is stamped on the replacement record.
// Reports false if refCode is unknown.
func (t *Tracker) UpdateStatus(refCode types.ReferenceCode, status types.DelegationStatus, completedAt time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[refCode.String()]
	if !ok {
		return false
	}
	rec.Status = status
	if status == types.DelegationComplete {
		rec.CompletedAt = &completedAt
	}
	t.records[refCode.String()] = rec
	return true
}

// Get returns the record for refCode, if any.
func (t *Tracker) Get(refCode types.ReferenceCode) (types.DelegationRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[refCode.String()]
	return rec, ok
}

// GetByAssignee returns every record currently assigned to agentID.
func (t *Tracker) GetByAssignee(agentID string) []types.DelegationRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.DelegationRecord
	for _, rec := range t.records {
		if rec.DelegatedTo == agentID {
			out = append(out, rec)
		}
	}
	return out
}

// GetOverdue returns every record with DueAt before now that has not
// reached DelegationComplete (§4.5, §8 invariant "overdue excludes
// complete").
func (t *Tracker) GetOverdue(now time.Time) []types.DelegationRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.DelegationRecord
	for _, rec := range t.records {
		if rec.IsOverdue(now) {
			out = append(out, rec)
		}
	}
	return out
}
