package objectstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryConfig controls how RetryingStore retries failed reads.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns sensible defaults for transient object-store failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// RetryingStore decorates a Store with exponential backoff. ErrObjectNotFound
// and context cancellation are never retried.
type RetryingStore struct {
	next   Store
	cfg    RetryConfig
	logger zerolog.Logger
}

// NewRetryingStore wraps next. Zero-valued config fields fall back to DefaultRetryConfig.
func NewRetryingStore(next Store, cfg RetryConfig, logger zerolog.Logger) *RetryingStore {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	return &RetryingStore{
		next:   next,
		cfg:    cfg,
		logger: logger.With().Str("component", "RetryingStore").Logger(),
	}
}

// GetObject implements Store.
func (s *RetryingStore) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.InitialInterval
	exp.MaxInterval = s.cfg.MaxInterval
	exp.Multiplier = s.cfg.Multiplier
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithContext(exp, ctx)
	b = backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1))

	var obj *Object
	operation := func() error {
		var err error
		obj, err = s.next.GetObject(ctx, bucket, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrObjectNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn().Err(err).Str("bucket", bucket).Str("object_key", key).Dur("retry_in", next).Msg("Object read failed, retrying.")
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return obj, nil
}
