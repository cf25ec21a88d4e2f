// Package ratelimit implements per-environment API rate limiting with a
// token bucket evaluated atomically inside the shared quota store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/quota"
)

// LimitProvider resolves per-category base limits and the shared defaults.
type LimitProvider interface {
	BaseLimit(ctx context.Context, category domain.Category, environmentID, organizationID string) (int, error)
	DefaultConfiguration() domain.DefaultConfiguration
}

// MetricsRecorder receives evaluation outcomes. Source is "store", "cache" or "zero_limit".
type MetricsRecorder interface {
	RecordDecision(category domain.Category, allowed bool, source string)
	RecordStoreError(operation string)
}

// Limiter evaluates rate limits.
type Limiter struct {
	store   quota.Store
	limits  LimitProvider
	cache   *EphemeralCache
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithEphemeralCache short-circuits recently exhausted buckets through c.
func WithEphemeralCache(c *EphemeralCache) Option {
	return func(l *Limiter) { l.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(l *Limiter) { l.metrics = m }
}

// NewLimiter creates a limiter. A nil store makes every evaluation fail with
// a store-unavailable error.
func NewLimiter(store quota.Store, limits LimitProvider, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Evaluate consumes one token from the bucket of (environmentID, category).
func (l *Limiter) Evaluate(ctx context.Context, organizationID, environmentID string, category domain.Category) (domain.Decision, error) {
	if l.store == nil {
		l.logger.ErrorContext(ctx, "rate limiting store not available",
			slog.String("organization_id", organizationID),
			slog.String("environment_id", environmentID))
		return domain.Decision{}, domain.WrapError(domain.ErrStoreUnavailable, "rate limiting store not available", nil)
	}

	baseLimit, err := l.limits.BaseLimit(ctx, category, environmentID, organizationID)
	if err != nil {
		var domainErr *domain.Error
		if errors.As(err, &domainErr) {
			return domain.Decision{}, err
		}
		return domain.Decision{}, domain.WrapError(domain.ErrLimitLookupFailed,
			fmt.Sprintf("failed to resolve %s limit", category), err)
	}
	defaults := l.limits.DefaultConfiguration()

	burstLimit := domain.BurstLimit(baseLimit, defaults.BurstAllowance)
	refillRate := domain.RefillRate(baseLimit, defaults.WindowDurationSeconds)
	key := domain.RateLimitKey{EnvironmentID: environmentID, Category: category}.String()
	now := l.now()

	decision := domain.Decision{
		Limit:                 burstLimit,
		WindowDurationSeconds: defaults.WindowDurationSeconds,
		BurstLimit:            burstLimit,
		RefillRate:            refillRate,
	}

	if burstLimit <= 0 || refillRate <= 0 {
		decision.ResetAtEpochMillis = now.Add(defaults.Window()).UnixMilli()
		l.record(category, false, "zero_limit")
		return decision, nil
	}

	if l.cache != nil {
		if blockedUntil, ok := l.cache.Blocked(key); ok {
			decision.ResetAtEpochMillis = blockedUntil
			l.record(category, false, "cache")
			return decision, nil
		}
	}

	reply, err := l.store.Eval(ctx, tokenBucketScript, []string{key},
		burstLimit, refillRate, defaults.WindowDurationSeconds*1000, now.UnixMilli(), 1)
	if err != nil {
		return domain.Decision{}, l.storeFailure(ctx, "eval", organizationID, environmentID, err)
	}

	result, err := parseBucketReply(reply)
	if err != nil {
		return domain.Decision{}, l.storeFailure(ctx, "eval", organizationID, environmentID, err)
	}

	if result.created {
		if err := l.store.SAdd(ctx, domain.EnvironmentIndexKey(environmentID), key); err != nil {
			l.recordStoreError("sadd")
			l.logger.WarnContext(ctx, "failed to index rate limit bucket",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}

	decision.Allowed = result.allowed
	decision.Remaining = result.remaining
	decision.ResetAtEpochMillis = result.resetAt

	if !decision.Allowed && l.cache != nil {
		l.cache.Block(key, result.resetAt)
	}

	l.record(category, decision.Allowed, "store")
	return decision, nil
}

// ResetEnvironment deletes every bucket of the environment and returns how many were removed.
func (l *Limiter) ResetEnvironment(ctx context.Context, environmentID string) (int, error) {
	if l.store == nil {
		return 0, domain.WrapError(domain.ErrStoreUnavailable, "rate limiting store not available", nil)
	}

	if l.cache != nil {
		l.cache.DeletePrefix(domain.EnvironmentPrefix(environmentID))
	}

	indexKey := domain.EnvironmentIndexKey(environmentID)
	listed, err := l.store.Eval(ctx, listEnvironmentScript, []string{indexKey})
	if err != nil {
		l.recordStoreError("reset")
		return 0, domain.WrapError(domain.ErrStoreOperationFailed, "failed to reset rate limits", err)
	}

	buckets, err := parseKeyList(listed)
	if err != nil {
		return 0, domain.WrapError(domain.ErrStoreOperationFailed, "failed to reset rate limits", err)
	}
	if len(buckets) == 0 {
		return 0, nil
	}

	reply, err := l.store.Eval(ctx, resetEnvironmentScript, append([]string{indexKey}, buckets...))
	if err != nil {
		l.recordStoreError("reset")
		return 0, domain.WrapError(domain.ErrStoreOperationFailed, "failed to reset rate limits", err)
	}

	removed, ok := reply.(int64)
	if !ok {
		return 0, domain.WrapError(domain.ErrStoreOperationFailed, "failed to reset rate limits",
			fmt.Errorf("unexpected reply %T", reply))
	}

	l.logger.InfoContext(ctx, "rate limits reset",
		slog.String("environment_id", environmentID),
		slog.Int64("buckets", removed))
	return int(removed), nil
}

// ClearCache forgets every cached denial and returns how many were dropped.
func (l *Limiter) ClearCache() int {
	if l.cache == nil {
		return 0
	}
	return l.cache.Purge()
}

func (l *Limiter) storeFailure(ctx context.Context, operation, organizationID, environmentID string, err error) error {
	l.recordStoreError(operation)
	l.logger.ErrorContext(ctx, "failed to evaluate rate limit",
		slog.String("organization_id", organizationID),
		slog.String("environment_id", environmentID),
		slog.String("error", err.Error()))
	return domain.WrapError(domain.ErrStoreOperationFailed, "failed to evaluate rate limit", err)
}

func (l *Limiter) record(category domain.Category, allowed bool, source string) {
	if l.metrics != nil {
		l.metrics.RecordDecision(category, allowed, source)
	}
}

func (l *Limiter) recordStoreError(operation string) {
	if l.metrics != nil {
		l.metrics.RecordStoreError(operation)
	}
}

func parseKeyList(reply any) ([]string, error) {
	if reply == nil {
		return nil, nil
	}
	values, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected key list reply %T", reply)
	}

	keys := make([]string, 0, len(values))
	for i, v := range values {
		key, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key list element %d: %T", i, v)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

type bucketResult struct {
	allowed   bool
	remaining int
	resetAt   int64
	created   bool
}

func parseBucketReply(reply any) (bucketResult, error) {
	values, ok := reply.([]any)
	if !ok || len(values) != 4 {
		return bucketResult{}, fmt.Errorf("unexpected token bucket reply %v", reply)
	}

	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return bucketResult{}, fmt.Errorf("unexpected token bucket reply element %d: %T", i, v)
		}
		ints[i] = n
	}

	return bucketResult{
		allowed:   ints[0] == 1,
		remaining: int(ints[1]),
		resetAt:   ints[2],
		created:   ints[3] == 1,
	}, nil
}
