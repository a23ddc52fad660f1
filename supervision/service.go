// Package supervision implements the Supervision Service (C13): a periodic
// scan over overdue delegations that alerts or escalates depending on how
// many times a delegation has already been retried. The tick loop follows
// the registry sync loop's ticker-plus-select shape (goadesign-goa-ai's
// runtime/registry/manager.go), generalized from a fixed registry sync to a
// pluggable per-tick scan.
package supervision

import (
	"context"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/bus"
	"github.com/dataparency-dev/cos-orchestrator/delegation"
	"github.com/dataparency-dev/cos-orchestrator/retrycounter"
	"github.com/dataparency-dev/cos-orchestrator/types"
	"go.uber.org/zap"
)

// RunningChecker reports whether an agent currently has a live harness.
// runtime.Runtime satisfies this; a nil checker treats every agent as
// running, matching §4.13's "absent runtime ⇒ true".
type RunningChecker interface {
	IsRunning(agentID string) bool
}

type alwaysRunning struct{}

func (alwaysRunning) IsRunning(string) bool { return true }

// Service ticks on checkInterval, scans the delegation tracker for overdue
// records, bumps each one's retry count, and publishes either a
// SupervisionAlert or an EscalationAlert depending on maxRetries.
type Service struct {
	delegate      *delegation.Tracker
	retries       *retrycounter.Counter
	bus           bus.Bus
	running       RunningChecker
	checkInterval time.Duration
	maxRetries    int
	alertTarget   string
	escalTarget   string
	now           func() time.Time
	log           *zap.Logger
}

// Option configures a Service at construction time.
type Option func(*Service)

func WithRunningChecker(r RunningChecker) Option {
	return func(s *Service) { s.running = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New constructs a Service. alertTarget and escalationTarget are queue names
// published to on each tick's non-escalated and escalated overdue records.
func New(
	delegate *delegation.Tracker,
	retries *retrycounter.Counter,
	b bus.Bus,
	checkInterval time.Duration,
	maxRetries int,
	alertTarget, escalationTarget string,
	opts ...Option,
) *Service {
	s := &Service{
		delegate:      delegate,
		retries:       retries,
		bus:           b,
		running:       alwaysRunning{},
		checkInterval: checkInterval,
		maxRetries:    maxRetries,
		alertTarget:   alertTarget,
		escalTarget:   escalationTarget,
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks ticking until ctx is cancelled. Errors raised while processing
// a single overdue record are logged; the loop continues (§4.13 "Errors
// raised inside a tick are logged; the loop continues").
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scan-and-publish cycle immediately, independent of the
// ticker in Run. Exposed so callers (and tests) can drive deterministic
// cycles without waiting on checkInterval.
func (s *Service) Tick(ctx context.Context) {
	overdue := s.delegate.GetOverdue(s.now())
	for _, record := range overdue {
		if err := s.processOverdue(ctx, record); err != nil {
			s.log.Error("supervision: tick failed for delegation",
				zap.String("ref", record.ReferenceCode.String()),
				zap.Error(err))
		}
	}
}

func (s *Service) processOverdue(ctx context.Context, record types.DelegationRecord) error {
	n := s.retries.Increment(record.ReferenceCode.String())
	isRunning := s.running.IsRunning(record.DelegatedTo)

	if n > s.maxRetries {
		alert := types.EscalationAlert{
			PayloadBase:       types.PayloadBase{MessageID: types.NewMessageID(), Timestamp: s.now()},
			DelegationRefCode: record.ReferenceCode,
			DelegatedTo:       record.DelegatedTo,
			Description:       record.Description,
			RetryCount:        n,
			Reason:            "Max retries exceeded",
		}
		return s.bus.Publish(ctx, types.Envelope{Payload: alert, ReferenceCode: record.ReferenceCode}, s.escalTarget)
	}

	dueAt := time.Time{}
	if record.DueAt != nil {
		dueAt = *record.DueAt
	}
	alert := types.SupervisionAlert{
		PayloadBase:       types.PayloadBase{MessageID: types.NewMessageID(), Timestamp: s.now()},
		DelegationRefCode: record.ReferenceCode,
		DelegatedTo:       record.DelegatedTo,
		Description:       record.Description,
		RetryCount:        n,
		DueAt:             dueAt,
		IsAgentRunning:    isRunning,
	}
	return s.bus.Publish(ctx, types.Envelope{Payload: alert, ReferenceCode: record.ReferenceCode}, s.alertTarget)
}
