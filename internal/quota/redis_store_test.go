package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/infrastructure/config"
	"github.com/gsoc2/novu/internal/quota"
	"github.com/gsoc2/novu/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreSAdd(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	store := quota.NewRedisStore(client)

	require.NoError(t, store.SAdd(context.Background(), "set", "a", "b"))
	require.NoError(t, store.SAdd(context.Background(), "set", "b"))
	require.NoError(t, store.SAdd(context.Background(), "set"))

	members, err := mr.Members("set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)
}

func TestRedisStoreEvalReturnsScriptReply(t *testing.T) {
	_, client := testutil.NewRedis(t)
	store := quota.NewRedisStore(client)
	script := `redis.call("SET", KEYS[1], ARGV[1]) return {tonumber(ARGV[1]) + 1, KEYS[1]}`

	for i := 0; i < 2; i++ {
		reply, err := store.Eval(context.Background(), script, []string{"k"}, 41)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(42), "k"}, reply)
	}
}

func TestRedisStoreErrorsAreStoreFailures(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	store := quota.NewRedisStore(client)
	mr.SetError("ERR injected failure")

	_, err := store.Eval(context.Background(), `return 1`, nil)
	assert.ErrorIs(t, err, domain.ErrStoreOperationFailed)

	err = store.SAdd(context.Background(), "set", "a")
	assert.ErrorIs(t, err, domain.ErrStoreOperationFailed)
}

func TestNewRedisClient(t *testing.T) {
	mr, _ := testutil.NewRedis(t)
	addr := mr.Addr()
	cfg := config.RedisConfig{
		Enabled:      true,
		URL:          "redis://" + addr + "/0",
		PoolSize:     2,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}

	client, err := quota.NewRedisClient(cfg, testutil.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	_, err = quota.NewRedisClient(cfg, testutil.DiscardLogger())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
