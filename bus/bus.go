// Package bus defines the Message Bus Contract (C3): publish plus
// per-consumer start/stop, with dead-letter on handler failure. Concrete
// broker integration (wire encoding, real topic exchanges) is out of scope
// per spec §1; InMemory below is the reference implementation the rest of
// the core is built and tested against, grounded on the teacher's queue/pipe
// vocabulary (dataparency-dev/AI-delegation's channel abstractions) and the
// broker/envelope shape from the wider pack's GOX-style examples.
package bus

import (
	"context"
	"errors"

	"github.com/dataparency-dev/cos-orchestrator/types"
)

// ErrUnroutable marks an envelope that cannot be delivered because no reply
// route exists; treated as Filtered per spec §7, never dead-lettered.
var ErrUnroutable = errors.New("bus: no route for envelope")

// Handler processes one envelope delivered off a queue. Returning a non-nil
// error causes the message to be dead-lettered and not redelivered to the
// same queue (§4.3).
type Handler func(ctx context.Context, env types.Envelope) error

// ConsumerHandle is a scoped resource: releasing it (Stop) stops only the
// consumer it was returned for, never any other consumer on the bus (§9
// "Scoped consumer resources").
type ConsumerHandle interface {
	// Stop releases this consumer's resources. It is safe to call more than
	// once; subsequent calls are no-ops.
	Stop(ctx context.Context) error
	// QueueName reports which queue this handle consumes, for diagnostics.
	QueueName() string
}

// Bus is the message bus contract every agent harness and the router are
// built against. Implementations must provide at-least-once delivery,
// per-queue FIFO between a single producer and single consumer, and a
// prefetch of one outstanding message per consumer so a slow handler never
// starves peers (§4.3, §5).
type Bus interface {
	// Publish delivers env to one consumer of queueName, durably. Safe for
	// concurrent callers; must not block on a slow consumer beyond queuing.
	Publish(ctx context.Context, env types.Envelope, queueName string) error

	// StartConsuming registers handler as the (only) consumer of queueName
	// and returns a handle whose Stop releases just this consumer.
	StartConsuming(ctx context.Context, queueName string, handler Handler) (ConsumerHandle, error)

	// StopAll releases every outstanding consumer handle on the bus.
	StopAll(ctx context.Context) error
}

// DeadLetterSink receives envelopes the bus could not or would not
// redeliver: undecodable messages and handler failures (§4.3, §7).
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, queueName string, env types.Envelope, cause error)
}

// DeadLetterFunc adapts a function to DeadLetterSink.
type DeadLetterFunc func(ctx context.Context, queueName string, env types.Envelope, cause error)

func (f DeadLetterFunc) DeadLetter(ctx context.Context, queueName string, env types.Envelope, cause error) {
	f(ctx, queueName, env, cause)
}
