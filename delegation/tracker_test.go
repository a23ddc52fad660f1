package delegation_test

import (
	"testing"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/delegation"
	"github.com/dataparency-dev/cos-orchestrator/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func code(seq int) types.ReferenceCode {
	c, _ := types.NewReferenceCode(2026, 3, 5, seq)
	return c
}

func TestDelegateAndGet(t *testing.T) {
	tr := delegation.New()
	rec := types.DelegationRecord{ReferenceCode: code(1), DelegatedTo: "agent-a", Status: types.DelegationAssigned}
	tr.Delegate(rec)

	got, ok := tr.Get(code(1))
	require.True(t, ok)
	assert.Equal(t, types.DelegationAssigned, got.Status)
}

func TestUpdateStatus_StampsCompletedAtOnlyOnComplete(t *testing.T) {
	tr := delegation.New()
	tr.Delegate(types.DelegationRecord{ReferenceCode: code(1), DelegatedTo: "agent-a", Status: types.DelegationAssigned})

	ok := tr.UpdateStatus(code(1), types.DelegationInProgress, time.Time{})
	require.True(t, ok)
	rec, _ := tr.Get(code(1))
	assert.Nil(t, rec.CompletedAt)

	now := time.Now()
	tr.UpdateStatus(code(1), types.DelegationComplete, now)
	rec, _ = tr.Get(code(1))
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, rec.CompletedAt.Equal(now))
}

func TestUpdateStatus_UnknownRefCodeReturnsFalse(t *testing.T) {
	tr := delegation.New()
	assert.False(t, tr.UpdateStatus(code(99), types.DelegationComplete, time.Now()))
}

func TestGetByAssignee(t *testing.T) {
	tr := delegation.New()
	tr.Delegate(types.DelegationRecord{ReferenceCode: code(1), DelegatedTo: "agent-a"})
	tr.Delegate(types.DelegationRecord{ReferenceCode: code(2), DelegatedTo: "agent-b"})
	tr.Delegate(types.DelegationRecord{ReferenceCode: code(3), DelegatedTo: "agent-a"})

	got := tr.GetByAssignee("agent-a")
	assert.Len(t, got, 2)
}

func TestGetOverdue_ExcludesCompleteAndFutureDue(t *testing.T) {
	tr := delegation.New()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tr.Delegate(types.DelegationRecord{ReferenceCode: code(1), DueAt: &past, Status: types.DelegationInProgress})
	tr.Delegate(types.DelegationRecord{ReferenceCode: code(2), DueAt: &past, Status: types.DelegationComplete})
	tr.Delegate(types.DelegationRecord{ReferenceCode: code(3), DueAt: &future, Status: types.DelegationInProgress})

	overdue := tr.GetOverdue(now)
	require.Len(t, overdue, 1)
	assert.Equal(t, code(1), overdue[0].ReferenceCode)
}
