// Package natsbus adapts a NATS connection to the bus.Bus contract. It is a
// thin shim over nats.go, not a hardened broker integration: concrete broker
// wiring (subject naming conventions, JetStream durability, ack deadlines)
// beyond the contract itself is explicitly out of scope, mirroring how the
// teacher's natsclient wraps its own NATS connection behind a narrow
// request/response surface rather than exposing raw subjects to callers.
package natsbus

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/dataparency-dev/cos-orchestrator/bus"
	"github.com/dataparency-dev/cos-orchestrator/types"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func init() {
	gob.Register(types.TextMessage{})
	gob.Register(types.PlanProposal{})
	gob.Register(types.PlanApprovalResponse{})
	gob.Register(types.SupervisionAlert{})
	gob.Register(types.EscalationAlert{})
}

// wireEnvelope is the gob-serializable transport shape for types.Envelope;
// Payload is boxed separately because gob cannot decode into an interface
// field without knowing the concrete type up front.
type wireEnvelope struct {
	Payload         types.Payload
	ReferenceCode   types.ReferenceCode
	AuthorityClaims []types.AuthorityClaim
	Context         types.Context
	Priority        types.Priority
	SLA             *types.SLA
}

func toWire(env types.Envelope) wireEnvelope {
	return wireEnvelope(env)
}

func fromWire(w wireEnvelope) types.Envelope {
	return types.Envelope(w)
}

// Bus adapts *nats.Conn to bus.Bus. Each queue name becomes a NATS subject
// with a queue-group subscription of the same name, giving at-most-one
// active consumer per queue the way the contract requires.
type Bus struct {
	conn *nats.Conn
	log  *zap.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// New wraps an established NATS connection. The caller owns the connection's
// lifecycle; Close is left to them.
func New(conn *nats.Conn, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{conn: conn, log: log, subs: make(map[string]*nats.Subscription)}
}

func (b *Bus) Publish(ctx context.Context, env types.Envelope, queueName string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toWire(env)); err != nil {
		return fmt.Errorf("natsbus: encode envelope: %w", err)
	}
	if err := b.conn.Publish(queueName, buf.Bytes()); err != nil {
		return fmt.Errorf("natsbus: publish to %s: %w", queueName, err)
	}
	return nil
}

type consumerHandle struct {
	queueName string
	sub       *nats.Subscription
	busRef    *Bus
}

func (h *consumerHandle) QueueName() string { return h.queueName }

func (h *consumerHandle) Stop(_ context.Context) error {
	h.busRef.mu.Lock()
	delete(h.busRef.subs, h.queueName)
	h.busRef.mu.Unlock()
	return h.sub.Unsubscribe()
}

// StartConsuming subscribes queueName as a NATS queue group so multiple
// processes could in principle share the load; this module only ever starts
// one subscriber per queue, preserving the single-consumer-per-queue
// semantics the in-memory bus provides.
func (b *Bus) StartConsuming(ctx context.Context, queueName string, handler bus.Handler) (bus.ConsumerHandle, error) {
	b.mu.Lock()
	if _, exists := b.subs[queueName]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("natsbus: queue already has a consumer: %s", queueName)
	}
	b.mu.Unlock()

	sub, err := b.conn.QueueSubscribe(queueName, queueName, func(msg *nats.Msg) {
		var w wireEnvelope
		if err := gob.NewDecoder(bytes.NewReader(msg.Data)).Decode(&w); err != nil {
			b.log.Warn("natsbus: dropping undecodable message", zap.String("queue", queueName), zap.Error(err))
			return
		}
		if err := handler(ctx, fromWire(w)); err != nil {
			b.log.Warn("natsbus: handler failed, message not redelivered",
				zap.String("queue", queueName), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("natsbus: subscribe to %s: %w", queueName, err)
	}
	if err := sub.SetPendingLimits(1, -1); err != nil {
		b.log.Warn("natsbus: could not set prefetch limit", zap.Error(err))
	}

	h := &consumerHandle{queueName: queueName, sub: sub, busRef: b}
	b.mu.Lock()
	b.subs[queueName] = sub
	b.mu.Unlock()
	return h, nil
}

func (b *Bus) StopAll(ctx context.Context) error {
	b.mu.Lock()
	subs := make([]*nats.Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			return err
		}
	}
	return nil
}

var _ bus.Bus = (*Bus)(nil)
