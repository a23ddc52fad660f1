// Package refcode implements the Reference Code Service (C1): a monotonic,
// date-scoped, persistable identifier generator. It serialises the
// load-increment-save cycle the way the teacher's Engine serialises its
// NATS-backed read-modify-write operations, so concurrent callers each see a
// distinct, strictly increasing sequence number within a UTC calendar day.
package refcode

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/types"
	"go.uber.org/zap"
)

// ErrSequenceExhausted is the fatal error raised when today's sequence would
// exceed 9999 (§4.1, §7 "Fatal").
var ErrSequenceExhausted = errors.New("refcode: daily sequence exhausted")

// SequenceStore is the persistence collaborator the service delegates to.
type SequenceStore interface {
	Load() (date string, sequence int, err error)
	Save(date string, sequence int) error
}

// MemorySequenceStore is an in-process SequenceStore, useful for tests and
// single-node deployments where durability is handled upstream.
type MemorySequenceStore struct {
	mu       sync.Mutex
	date     string
	sequence int
}

func NewMemorySequenceStore() *MemorySequenceStore {
	return &MemorySequenceStore{}
}

func (s *MemorySequenceStore) Load() (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.date, s.sequence, nil
}

func (s *MemorySequenceStore) Save(date string, sequence int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.date = date
	s.sequence = sequence
	return nil
}

// Service generates ReferenceCodes under a single-writer discipline: every
// call serialises load → increment → save → emit through mu so that no two
// concurrent callers ever observe the same (date, sequence) pair.
type Service struct {
	mu    sync.Mutex
	store SequenceStore
	now   func() time.Time
	log   *zap.Logger
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithClock overrides the time source; tests use this to force day rollover.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(store SequenceStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate returns the next ReferenceCode for today (UTC), atomically.
func (s *Service) Generate() (types.ReferenceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	today := dateKey(now)

	storedDate, storedSeq, err := s.store.Load()
	if err != nil {
		// Corrupt persisted state is treated as zeroed and restarted at 1 (§4.1).
		s.log.Warn("refcode: sequence store load failed, restarting at 1", zap.Error(err))
		storedDate, storedSeq = "", 0
	}

	seq := storedSeq
	if storedDate != today {
		// New day (or corrupt/empty state): reset to 1.
		seq = 0
	}
	seq++

	if seq > 9999 {
		return types.ReferenceCode{}, fmt.Errorf("%w: date=%s", ErrSequenceExhausted, today)
	}

	if err := s.store.Save(today, seq); err != nil {
		return types.ReferenceCode{}, fmt.Errorf("refcode: save sequence: %w", err)
	}

	code, err := types.NewReferenceCode(now.Year(), int(now.Month()), now.Day(), seq)
	if err != nil {
		return types.ReferenceCode{}, err
	}
	return code, nil
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
