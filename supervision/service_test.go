package supervision_test

import (
	"context"
	"testing"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/bus"
	"github.com/dataparency-dev/cos-orchestrator/delegation"
	"github.com/dataparency-dev/cos-orchestrator/retrycounter"
	"github.com/dataparency-dev/cos-orchestrator/supervision"
	"github.com/dataparency-dev/cos-orchestrator/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOverdueRecord(ref string, clock time.Time) types.DelegationRecord {
	code, _ := types.NewReferenceCode(clock.Year(), int(clock.Month()), clock.Day(), 1)
	due := clock.Add(-time.Hour)
	return types.DelegationRecord{
		ReferenceCode: code,
		DelegatedBy:   "cos",
		DelegatedTo:   "email-agent",
		Description:   "Draft reply",
		Status:        types.DelegationAssigned,
		AssignedAt:    clock.Add(-2 * time.Hour),
		DueAt:         &due,
	}
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

// E5 — overdue escalation: ticks 1-3 alert, tick 4 (maxRetries+1) escalates.
func TestE5_OverdueEscalatesAfterMaxRetries(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)}
	delegate := delegation.New()
	retries := retrycounter.New()
	b := bus.NewInMemory()

	record := newOverdueRecord("r1", clock.t)
	delegate.Delegate(record)

	const maxRetries = 3
	svc := supervision.New(delegate, retries, b, time.Minute, maxRetries, "agent.alerts", "agent.founder",
		supervision.WithClock(clock.Now))

	alertCh := make(chan types.Envelope, 10)
	escalCh := make(chan types.Envelope, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h1, err := b.StartConsuming(ctx, "agent.alerts", func(_ context.Context, env types.Envelope) error {
		alertCh <- env
		return nil
	})
	require.NoError(t, err)
	defer h1.Stop(context.Background())
	h2, err := b.StartConsuming(ctx, "agent.founder", func(_ context.Context, env types.Envelope) error {
		escalCh <- env
		return nil
	})
	require.NoError(t, err)
	defer h2.Stop(context.Background())

	// Drive four ticks directly, without running the ticker loop, so the
	// test is deterministic.
	for i := 1; i <= 4; i++ {
		tickOnce(t, svc, delegate, clock.t)

		if i <= maxRetries {
			select {
			case env := <-alertCh:
				alert := env.Payload.(types.SupervisionAlert)
				assert.Equal(t, i, alert.RetryCount, "tick %d should carry retryCount %d", i, i)
				assert.Equal(t, "email-agent", alert.DelegatedTo)
			case <-time.After(time.Second):
				t.Fatalf("tick %d: no SupervisionAlert published", i)
			}
		} else {
			select {
			case env := <-escalCh:
				alert := env.Payload.(types.EscalationAlert)
				assert.Equal(t, i, alert.RetryCount)
				assert.Equal(t, "Max retries exceeded", alert.Reason)
			case <-time.After(time.Second):
				t.Fatalf("tick %d: no EscalationAlert published", i)
			}
		}
	}
}

// tickOnce runs a single scan-and-publish cycle the same way Run's ticker
// branch would, without waiting on a real timer.
func tickOnce(t *testing.T, svc *supervision.Service, delegate *delegation.Tracker, now time.Time) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Tick(ctx)
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	delegate := delegation.New()
	retries := retrycounter.New()
	b := bus.NewInMemory()
	svc := supervision.New(delegate, retries, b, 10*time.Millisecond, 3, "agent.alerts", "agent.founder")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// With no RunningChecker wired, a supervision alert carries
// isAgentRunning = true.
func TestOverdueAlert_CarriesRunningState(t *testing.T) {
	clock := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	delegate := delegation.New()
	retries := retrycounter.New()
	b := bus.NewInMemory()
	delegate.Delegate(newOverdueRecord("r1", clock))

	svc := supervision.New(delegate, retries, b, time.Minute, 5, "agent.alerts", "agent.founder",
		supervision.WithClock(func() time.Time { return clock }))

	ch := make(chan types.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handle, err := b.StartConsuming(ctx, "agent.alerts", func(_ context.Context, env types.Envelope) error {
		ch <- env
		return nil
	})
	require.NoError(t, err)
	defer handle.Stop(context.Background())

	tctx, tcancel := context.WithTimeout(context.Background(), time.Second)
	defer tcancel()
	svc.Tick(tctx)

	select {
	case env := <-ch:
		alert := env.Payload.(types.SupervisionAlert)
		assert.True(t, alert.IsAgentRunning, "absent runtime checker must default to running=true")
	case <-time.After(time.Second):
		t.Fatal("no alert published")
	}
}
