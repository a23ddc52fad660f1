package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/dataparency-dev/cos-orchestrator/types"
	"go.uber.org/zap"
)

// DeadLetterEnvelope pairs a dead-lettered envelope with the queue it was
// meant for and the error that caused the drop.
type DeadLetterEnvelope struct {
	QueueName string
	Envelope  types.Envelope
	Cause     error
}

// InMemory is the reference Bus implementation: one buffered channel per
// queue, a single consumer goroutine per queue enforcing prefetch=1, and a
// slice-backed dead-letter log. It is the bus every other component and
// scenario test in this module is built against; a real deployment swaps it
// for bus/natsbus without touching callers, since both satisfy Bus.
type InMemory struct {
	mu        sync.Mutex
	queues    map[string]chan queued
	consumers map[string]*consumer
	deadMu    sync.Mutex
	dead      []DeadLetterEnvelope
	bufSize   int
	log       *zap.Logger
}

type queued struct {
	env types.Envelope
}

type consumer struct {
	queueName string
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

func (c *consumer) QueueName() string { return c.queueName }

func (c *consumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.cancel()
	})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures an InMemory bus at construction time.
type Option func(*InMemory)

// WithBufferSize sets the per-queue channel capacity. Default is 64.
func WithBufferSize(n int) Option {
	return func(b *InMemory) { b.bufSize = n }
}

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *InMemory) { b.log = log }
}

// NewInMemory constructs an empty InMemory bus. Queues are created lazily on
// first Publish or StartConsuming.
func NewInMemory(opts ...Option) *InMemory {
	b := &InMemory{
		queues:    make(map[string]chan queued),
		consumers: make(map[string]*consumer),
		bufSize:   64,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *InMemory) queueFor(name string) chan queued {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan queued, b.bufSize)
		b.queues[name] = q
	}
	return q
}

// Publish enqueues env on queueName. It blocks only if the queue's buffer is
// full, which signals sustained consumer starvation rather than a contract
// violation.
func (b *InMemory) Publish(ctx context.Context, env types.Envelope, queueName string) error {
	q := b.queueFor(queueName)
	select {
	case q <- queued{env: env}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming starts a single goroutine pulling one message at a time off
// queueName, enforcing prefetch=1 (§5): the goroutine never reads the next
// message until handler returns for the current one. A handler error
// dead-letters the envelope instead of retrying it on the same queue.
func (b *InMemory) StartConsuming(ctx context.Context, queueName string, handler Handler) (ConsumerHandle, error) {
	b.mu.Lock()
	if _, exists := b.consumers[queueName]; exists {
		b.mu.Unlock()
		return nil, errors.New("bus: queue already has a consumer: " + queueName)
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &consumer{queueName: queueName, cancel: cancel, done: make(chan struct{})}
	b.consumers[queueName] = c
	b.mu.Unlock()

	q := b.queueFor(queueName)

	go func() {
		defer close(c.done)
		defer func() {
			b.mu.Lock()
			if b.consumers[queueName] == c {
				delete(b.consumers, queueName)
			}
			b.mu.Unlock()
		}()
		for {
			select {
			case <-cctx.Done():
				return
			case item := <-q:
				if err := handler(cctx, item.env); err != nil {
					b.log.Warn("bus: handler failed, dead-lettering",
						zap.String("queue", queueName), zap.Error(err))
					b.recordDeadLetter(queueName, item.env, err)
				}
			}
		}
	}()

	return c, nil
}

func (b *InMemory) recordDeadLetter(queueName string, env types.Envelope, cause error) {
	b.deadMu.Lock()
	defer b.deadMu.Unlock()
	b.dead = append(b.dead, DeadLetterEnvelope{QueueName: queueName, Envelope: env, Cause: cause})
}

// DeadLetters returns a snapshot of everything dead-lettered so far.
func (b *InMemory) DeadLetters() []DeadLetterEnvelope {
	b.deadMu.Lock()
	defer b.deadMu.Unlock()
	out := make([]DeadLetterEnvelope, len(b.dead))
	copy(out, b.dead)
	return out
}

// StopAll stops every registered consumer. Stopping one consumer never
// affects another's goroutine or queue (§9 "scoped consumer resources");
// StopAll is a convenience for shutdown, not a requirement of the contract.
func (b *InMemory) StopAll(ctx context.Context) error {
	b.mu.Lock()
	handles := make([]*consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		handles = append(handles, c)
	}
	b.mu.Unlock()

	for _, c := range handles {
		if err := c.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}

var _ Bus = (*InMemory)(nil)
