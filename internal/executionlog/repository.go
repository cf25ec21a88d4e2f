package executionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository stores execution details.
type Repository interface {
	// Create stores detail unless a record with the same id exists.
	// It reports whether a new record was written.
	Create(ctx context.Context, detail ExecutionDetail) (bool, error)
	FindByJob(ctx context.Context, jobID string) ([]ExecutionDetail, error)
}

// RedisRepository keeps each detail as a JSON string and indexes ids per job.
type RedisRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisRepository creates a repository. A zero ttl keeps records forever.
func NewRedisRepository(client redis.UniversalClient, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

func jobIndexKey(jobID string) string {
	return "execution_details:{job=" + url.QueryEscape(jobID) + "}"
}

func detailKey(jobID, id string) string {
	return jobIndexKey(jobID) + ":" + id
}

// Create implements Repository.
func (r *RedisRepository) Create(ctx context.Context, detail ExecutionDetail) (bool, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return false, fmt.Errorf("encode execution detail: %w", err)
	}

	created, err := r.client.SetNX(ctx, detailKey(detail.JobID, detail.ID), raw, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store execution detail: %w", err)
	}

	index := jobIndexKey(detail.JobID)
	if err := r.client.SAdd(ctx, index, detail.ID).Err(); err != nil {
		return created, fmt.Errorf("index execution detail: %w", err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, index, r.ttl).Err(); err != nil {
			return created, fmt.Errorf("expire execution detail index: %w", err)
		}
	}
	return created, nil
}

// FindByJob implements Repository. Records are returned oldest first.
func (r *RedisRepository) FindByJob(ctx context.Context, jobID string) ([]ExecutionDetail, error) {
	ids, err := r.client.SMembers(ctx, jobIndexKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list execution details: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = detailKey(jobID, id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load execution details: %w", err)
	}

	details := make([]ExecutionDetail, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var d ExecutionDetail
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, fmt.Errorf("decode execution detail: %w", err)
		}
		details = append(details, d)
	}
	slices.SortFunc(details, func(a, b ExecutionDetail) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return details, nil
}
