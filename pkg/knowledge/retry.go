package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetries         = 2
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = time.Second
)

type retryConfig struct {
	retries         uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *slog.Logger
}

// RetryOption mutates retry configuration.
type RetryOption func(*retryConfig)

// WithRetries sets how many times one failed call is retried.
func WithRetries(retries int) RetryOption {
	return func(cfg *retryConfig) {
		if retries >= 0 {
			cfg.retries = uint64(retries)
		}
	}
}

// WithBackoff sets the first and the largest wait between attempts.
func WithBackoff(initial, maxWait time.Duration) RetryOption {
	return func(cfg *retryConfig) {
		if initial > 0 {
			cfg.initialInterval = initial
		}
		if maxWait >= initial && maxWait > 0 {
			cfg.maxInterval = maxWait
		}
	}
}

// WithRetryLogger configures structured logging for retried calls.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(cfg *retryConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Retrying decorates a Store and retries calls failing with ErrTransient.
// Any other error is returned after the first attempt.
type Retrying struct {
	cfg   retryConfig
	inner Store
}

// NewRetrying wraps inner.
func NewRetrying(inner Store, options ...RetryOption) *Retrying {
	cfg := retryConfig{
		retries:         defaultRetries,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		logger:          slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Retrying{cfg: cfg, inner: inner}
}

// Exists delegates with retries.
func (r *Retrying) Exists(ctx context.Context, question string) (bool, error) {
	var exists bool
	err := r.do(ctx, "exists", func() error {
		var err error
		exists, err = r.inner.Exists(ctx, question)
		return err
	})

	return exists, err
}

// Read delegates with retries.
func (r *Retrying) Read(ctx context.Context, question string) (string, bool, error) {
	var (
		answer string
		found  bool
	)
	err := r.do(ctx, "read", func() error {
		var err error
		answer, found, err = r.inner.Read(ctx, question)
		return err
	})

	return answer, found, err
}

// Create delegates with retries. A write may commit before its transient
// failure is reported, so ErrExists on a retry counts as success when the
// stored answer is the one being written.
func (r *Retrying) Create(ctx context.Context, question, answer string) error {
	retried := false
	err := r.do(ctx, "create", func() error {
		err := r.inner.Create(ctx, question, answer)
		if errors.Is(err, ErrTransient) {
			retried = true
		}
		return err
	})
	if !retried || !errors.Is(err, ErrExists) {
		return err
	}

	stored, found, readErr := r.Read(ctx, question)
	if readErr != nil || !found || stored != answer {
		return err
	}

	return nil
}

// Update delegates with retries.
func (r *Retrying) Update(ctx context.Context, question, answer string) error {
	return r.do(ctx, "update", func() error {
		return r.inner.Update(ctx, question, answer)
	})
}

// Destroy delegates with retries. ErrNotFound after a transient failure
// means the earlier attempt committed.
func (r *Retrying) Destroy(ctx context.Context, question string) error {
	retried := false
	err := r.do(ctx, "destroy", func() error {
		err := r.inner.Destroy(ctx, question)
		if errors.Is(err, ErrTransient) {
			retried = true
		}
		return err
	})
	if retried && errors.Is(err, ErrNotFound) {
		return nil
	}

	return err
}

// All delegates with retries.
func (r *Retrying) All(ctx context.Context) ([]string, error) {
	var questions []string
	err := r.do(ctx, "all", func() error {
		var err error
		questions, err = r.inner.All(ctx)
		return err
	})

	return questions, err
}

// Entries delegates with retries.
func (r *Retrying) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := r.do(ctx, "entries", func() error {
		var err error
		entries, err = r.inner.Entries(ctx)
		return err
	})

	return entries, err
}

func (r *Retrying) do(ctx context.Context, op string, call func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.initialInterval
	policy.MaxInterval = r.cfg.maxInterval
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := call()
		if err != nil && !errors.Is(err, ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.cfg.logger.WarnContext(ctx, "knowledge store call failed, retrying",
			"op", op,
			"wait", wait,
			"error", err,
		)
	}

	return backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, r.cfg.retries), ctx),
		notify,
	)
}

var _ Store = (*Retrying)(nil)
