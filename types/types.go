// Package types defines the core data structures shared across the
// Chief-of-Staff orchestration runtime: reference codes, authority claims,
// message envelopes and their payload variants, agent registrations,
// delegation and workflow records, and pending plans.
package types

import (
	"time"

	"github.com/google/uuid"
)

// ─── Authority ────────────────────────────────────────────────────────────

// AuthorityTier is a total order over how much latitude a delegatee has
// been granted: JustDoIt < DoItAndShowMe < AskMeFirst.
type AuthorityTier int

const (
	JustDoIt AuthorityTier = iota
	DoItAndShowMe
	AskMeFirst
)

func (t AuthorityTier) String() string {
	switch t {
	case JustDoIt:
		return "JustDoIt"
	case DoItAndShowMe:
		return "DoItAndShowMe"
	case AskMeFirst:
		return "AskMeFirst"
	default:
		return "Unknown"
	}
}

// ParseAuthorityTier deserializes the textual tier values from §6.
func ParseAuthorityTier(s string) (AuthorityTier, bool) {
	switch s {
	case "JustDoIt":
		return JustDoIt, true
	case "DoItAndShowMe":
		return DoItAndShowMe, true
	case "AskMeFirst":
		return AskMeFirst, true
	default:
		return 0, false
	}
}

// MinTier returns the more conservative (numerically smaller) of two tiers.
func MinTier(a, b AuthorityTier) AuthorityTier {
	if a < b {
		return a
	}
	return b
}

// AuthorityClaim grants a delegatee the right to act up to tier on a set of
// actions. An empty PermittedActions means wildcard ("*").
type AuthorityClaim struct {
	GrantedBy        string
	GrantedTo        string
	Tier             AuthorityTier
	PermittedActions []string
	GrantedAt        time.Time
	ExpiresAt        *time.Time
}

// Expired reports whether the claim is no longer honoured as of now.
func (c AuthorityClaim) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// PermitsWildcard reports whether the claim applies to every action.
func (c AuthorityClaim) PermitsWildcard() bool {
	return len(c.PermittedActions) == 0
}

// ─── Envelope & Context ───────────────────────────────────────────────────

// Context carries routing and provenance metadata alongside a payload.
type Context struct {
	ParentMessageID string
	OriginalGoal    string
	TeamID          string
	ChannelID       string
	ReplyTo         string
	FromAgentID     string
}

// Priority orders competing work; higher values are more urgent.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
	PriorityUrgent Priority = 2
)

// SLA is an optional service-level deadline attached to an envelope.
type SLA struct {
	DueBy time.Time
}

// Envelope is the immutable transport record wrapping a payload with a
// reference code, authority claims, and routing context. Once constructed it
// must not be mutated; produce a new Envelope (e.g. via Reply) instead.
type Envelope struct {
	Payload         Payload
	ReferenceCode   ReferenceCode
	AuthorityClaims []AuthorityClaim
	Context         Context
	Priority        Priority
	SLA             *SLA
}

// Reply builds a reply envelope carrying the same reference code, with
// ParentMessageID pointing at the original message and FromAgentID stamped
// to fromAgentID. Per §4.10/§9, the harness is the only caller that should
// invoke this when stamping outbound replies.
func (e Envelope) Reply(payload Payload, fromAgentID string) Envelope {
	return Envelope{
		Payload:       payload,
		ReferenceCode: e.ReferenceCode,
		Context: Context{
			ParentMessageID: e.Payload.Base().MessageID,
			OriginalGoal:    e.Context.OriginalGoal,
			TeamID:          e.Context.TeamID,
			ChannelID:       e.Context.ChannelID,
			ReplyTo:         e.Context.ReplyTo,
			FromAgentID:     fromAgentID,
		},
		Priority: e.Priority,
	}
}

// ─── Payload ──────────────────────────────────────────────────────────────

// PayloadKind tags the closed sum of payload variants.
type PayloadKind string

const (
	KindTextMessage          PayloadKind = "TextMessage"
	KindPlanProposal         PayloadKind = "PlanProposal"
	KindPlanApprovalResponse PayloadKind = "PlanApprovalResponse"
	KindSupervisionAlert     PayloadKind = "SupervisionAlert"
	KindEscalationAlert      PayloadKind = "EscalationAlert"
)

// PayloadBase carries the fields common to every payload variant.
type PayloadBase struct {
	MessageID     string
	Timestamp     time.Time
	CorrelationID string
}

// NewMessageID mints a fresh identifier for a payload originated by this
// runtime (proposals, alerts, aggregate replies) rather than relayed from a
// caller-supplied message.
func NewMessageID() string {
	return uuid.NewString()
}

// Payload is implemented by every message variant in the closed sum.
// Dispatch on Kind(), never on dynamic type assertions beyond a single
// type switch at the boundary (§9 "Tagged payloads instead of inheritance").
type Payload interface {
	Kind() PayloadKind
	Base() PayloadBase
}

// TextMessage is a free-form natural-language message.
type TextMessage struct {
	PayloadBase
	Text string
}

func (TextMessage) Kind() PayloadKind      { return KindTextMessage }
func (m TextMessage) Base() PayloadBase    { return m.PayloadBase }

// PlanProposal is published to the escalation target when a decomposition
// plans at least one AskMeFirst task, which requires human sign-off.
type PlanProposal struct {
	PayloadBase
	Summary          string
	TaskDescriptions []string
	OriginalGoal     string
	WorkflowRefCode  ReferenceCode
}

func (PlanProposal) Kind() PayloadKind   { return KindPlanProposal }
func (m PlanProposal) Base() PayloadBase { return m.PayloadBase }

// PlanApprovalResponse answers a PlanProposal.
type PlanApprovalResponse struct {
	PayloadBase
	IsApproved      bool
	RejectionReason string
	WorkflowRefCode ReferenceCode
}

func (PlanApprovalResponse) Kind() PayloadKind   { return KindPlanApprovalResponse }
func (m PlanApprovalResponse) Base() PayloadBase { return m.PayloadBase }

// SupervisionAlert reports an overdue delegation still within retry budget.
type SupervisionAlert struct {
	PayloadBase
	DelegationRefCode ReferenceCode
	DelegatedTo       string
	Description       string
	RetryCount        int
	DueAt             time.Time
	IsAgentRunning    bool
}

func (SupervisionAlert) Kind() PayloadKind   { return KindSupervisionAlert }
func (m SupervisionAlert) Base() PayloadBase { return m.PayloadBase }

// EscalationAlert reports a delegation that exceeded its retry budget.
type EscalationAlert struct {
	PayloadBase
	DelegationRefCode ReferenceCode
	DelegatedTo       string
	Description       string
	RetryCount        int
	Reason            string
}

func (EscalationAlert) Kind() PayloadKind   { return KindEscalationAlert }
func (m EscalationAlert) Base() PayloadBase { return m.PayloadBase }

// ─── Agents ───────────────────────────────────────────────────────────────

// AgentType distinguishes human-fronted agents from AI-backed ones.
type AgentType string

const (
	AgentTypeAI    AgentType = "ai"
	AgentTypeHuman AgentType = "human"
)

// Capability is a named skill tag advertised by an agent and matched against
// during routing.
type Capability struct {
	Name        string
	Description string
}

// AgentRegistration is what the registry (C4) stores for a running agent.
type AgentRegistration struct {
	AgentID      string
	Name         string
	AgentType    AgentType
	Capabilities []Capability
	RegisteredAt time.Time
	IsAvailable  bool

	// TrustScore and CurrentLoad are supervisory signals consulted by the
	// market package's candidate scoring when several agents match a
	// capability; they are not part of the base spec's registration record,
	// but are carried here because the registry is the natural owner of an
	// agent's standing the way the teacher's AgentProfile carries them too.
	TrustScore  float64
	CurrentLoad int
	MaxLoad     int
}

// HasCapability reports whether the registration advertises name.
func (r AgentRegistration) HasCapability(name string) bool {
	for _, c := range r.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ─── Delegation ───────────────────────────────────────────────────────────

// DelegationStatus tracks a delegation's lifecycle.
type DelegationStatus string

const (
	DelegationAssigned       DelegationStatus = "Assigned"
	DelegationInProgress     DelegationStatus = "InProgress"
	DelegationAwaitingReview DelegationStatus = "AwaitingReview"
	DelegationComplete       DelegationStatus = "Complete"
	DelegationOverdue        DelegationStatus = "Overdue"
)

// DelegationRecord is an immutable snapshot of one delegated unit of work.
// State changes produce a new record in place of the old one (§3).
type DelegationRecord struct {
	ReferenceCode ReferenceCode
	DelegatedBy   string
	DelegatedTo   string
	Description   string
	Status        DelegationStatus
	AssignedAt    time.Time
	DueAt         *time.Time
	CompletedAt   *time.Time
}

// IsOverdue reports whether the record is overdue as of now.
func (d DelegationRecord) IsOverdue(now time.Time) bool {
	return d.DueAt != nil && d.DueAt.Before(now) && d.Status != DelegationComplete
}

// ─── Workflow ─────────────────────────────────────────────────────────────

// WorkflowStatus tracks a multi-subtask workflow's aggregation state.
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "InProgress"
	WorkflowCompleted  WorkflowStatus = "Completed"
	WorkflowFailed     WorkflowStatus = "Failed"
)

// WorkflowRecord groups the sub-task reference codes spawned from one
// decomposition so their results can be aggregated back to the requester.
type WorkflowRecord struct {
	ReferenceCode          ReferenceCode
	OriginalEnvelope       Envelope
	SubtaskReferenceCodes  []ReferenceCode
	Summary                string
	Status                 WorkflowStatus
	CreatedAt              time.Time
	CompletedAt            *time.Time
}

// ─── Decomposition & Pending plans ───────────────────────────────────────

// DecomposedTask is one unit of work a skill pipeline produced from a goal.
type DecomposedTask struct {
	Capability    string
	Description   string
	AuthorityTier AuthorityTier
}

// Decomposition is the parsed result of running the triage/decomposition
// skill pipeline over an inbound envelope.
type Decomposition struct {
	Tasks      []DecomposedTask
	Summary    string
	Confidence float64
}

// PendingPlan is a decomposition held while awaiting a PlanApprovalResponse.
type PendingPlan struct {
	OriginalEnvelope Envelope
	Decomposition    Decomposition
	StoredAt         time.Time
}

// ─── Skills ───────────────────────────────────────────────────────────────

// SkillDefinition describes one pipeline step as consumed by the skill
// pipeline runner (C9). The runner never inspects Content; only the
// executor named by ExecutorType does.
type SkillDefinition struct {
	SkillID      string
	Name         string
	Description  string
	Category     string
	ExecutorType string
	Content      string
}

// ─── Persona ──────────────────────────────────────────────────────────────

// Persona configures a Router Agent's behaviour (§4.12).
type Persona struct {
	AgentID             string
	Name                string
	AgentType           AgentType
	Capabilities        []Capability
	Pipeline            []string // ordered skill ids
	EscalationTarget    string   // queue name
	ModelTier           string
	ConfidenceThreshold float64
}
