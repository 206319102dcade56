package recordstore

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/Domenick1991/bookingcore/internal/observability"
	"github.com/sirupsen/logrus"
)

// VersionField is reserved; callers never write it directly.
const VersionField = "version"

const (
	DefaultMaxConditionalRetries = 10

	conditionalBaseDelay = 50 * time.Millisecond
	conditionalJitter    = 100 * time.Millisecond
	conditionalMaxDelay  = 2 * time.Second
)

type Fields map[string]any

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is a versioned entity. Version starts at 1 and grows by one per successful update.
type Record struct {
	Key       string    `json:"key"`
	Fields    Fields    `json:"fields"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backend is the raw storage contract. Failures must be classifiable by CodeOf:
// a missing key is CodeNotFound, a version mismatch is CodeConditionFailed.
type Backend interface {
	Get(ctx context.Context, key string) (*Record, error)
	Create(ctx context.Context, key string, fields Fields) (*Record, error)
	UpdateIfVersion(ctx context.Context, key string, expectedVersion int64, updates Fields) (*Record, error)
}

type StoreOption func(*Store)

// WithConflictSleeper swaps the wait between optimistic update attempts.
func WithConflictSleeper(fn func(ctx context.Context, d time.Duration) error) StoreOption {
	return func(s *Store) {
		s.sleep = fn
	}
}

type Store struct {
	backend        Backend
	exec           *Executor
	logger         *logrus.Logger
	maxConditional int
	sleep          func(ctx context.Context, d time.Duration) error
	jitter         func() time.Duration
}

func NewStore(backend Backend, exec *Executor, maxConditionalRetries int, logger *logrus.Logger, opts ...StoreOption) *Store {
	if maxConditionalRetries <= 0 {
		maxConditionalRetries = DefaultMaxConditionalRetries
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{
		backend:        backend,
		exec:           exec,
		logger:         logger,
		maxConditional: maxConditionalRetries,
		sleep:          sleepContext,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(conditionalJitter)))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Executor exposes the retrying executor so other store I/O can share its policy.
func (s *Store) Executor() *Executor {
	return s.exec
}

func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	if err := validateKey("get", key); err != nil {
		return nil, err
	}
	return Execute(ctx, s.exec, "get", func(ctx context.Context) (*Record, error) {
		return s.backend.Get(ctx, key)
	})
}

func (s *Store) Create(ctx context.Context, key string, fields Fields) (*Record, error) {
	if err := validateKey("create", key); err != nil {
		return nil, err
	}
	if _, ok := fields[VersionField]; ok {
		return nil, newError(CodeValidation, "create", key, fmt.Errorf("field %q is reserved", VersionField))
	}
	if fields == nil {
		fields = Fields{}
	}
	return Execute(ctx, s.exec, "create", func(ctx context.Context) (*Record, error) {
		return s.backend.Create(ctx, key, fields)
	})
}

// UpdateWithOptimisticLock merges updates into the record guarded by its version.
// A lost race re-reads and retries, so concurrent writers with disjoint fields both land.
func (s *Store) UpdateWithOptimisticLock(ctx context.Context, key string, updates Fields) (*Record, error) {
	if err := validateKey("update", key); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, newError(CodeValidation, "update", key, fmt.Errorf("no fields to update"))
	}
	if _, ok := updates[VersionField]; ok {
		return nil, newError(CodeValidation, "update", key, fmt.Errorf("field %q is reserved", VersionField))
	}

	for attempt := 0; attempt < s.maxConditional; attempt++ {
		current, err := Execute(ctx, s.exec, "get", func(ctx context.Context) (*Record, error) {
			return s.backend.Get(ctx, key)
		})
		if err != nil {
			return nil, err
		}

		updated, err := Execute(ctx, s.exec, "update", func(ctx context.Context) (*Record, error) {
			return s.backend.UpdateIfVersion(ctx, key, current.Version, updates)
		})
		if err == nil {
			return updated, nil
		}
		if !IsConditionFailed(err) {
			return nil, err
		}

		observability.OptimisticConflicts.Inc()
		if attempt == s.maxConditional-1 {
			break
		}
		delay := s.conflictDelay(attempt)
		s.logger.WithFields(logrus.Fields{
			"key":     key,
			"version": current.Version,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Debug("version conflict, re-reading record")
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("recordstore: update %q after %d attempts: %w", key, s.maxConditional, ErrConcurrencyExhausted)
}

func (s *Store) conflictDelay(attempt int) time.Duration {
	if attempt > 16 {
		return conditionalMaxDelay
	}
	d := conditionalBaseDelay*time.Duration(int64(1)<<uint(attempt)) + s.jitter()
	if d > conditionalMaxDelay || d <= 0 {
		return conditionalMaxDelay
	}
	return d
}

func validateKey(op, key string) error {
	if strings.TrimSpace(key) == "" {
		return newError(CodeValidation, op, key, fmt.Errorf("key is required"))
	}
	return nil
}
