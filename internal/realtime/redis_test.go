package realtime

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These run against a live Redis when REDIS_TEST_ADDR is set.
func newRedisTestStore(t *testing.T) (*RedisStore, string) {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())

	root := "test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		iter := rdb.Scan(ctx, 0, keyPrefix+root+"*", 100).Iterator()
		for iter.Next(ctx) {
			rdb.Del(ctx, iter.Val())
		}
		rdb.Close()
	})
	return NewRedisStore(rdb), root
}

func TestRedisStore_WriteModes(t *testing.T) {
	s, root := newRedisTestStore(t)
	ctx := context.Background()
	p := Join(root, "threads", "a")

	ok, err := s.SetIfAbsent(ctx, p, Node{"created_at": ServerTimestamp, "tradie_id": "5"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SetIfAbsent(ctx, p, Node{"tradie_id": "6"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Update(ctx, p, Node{"last_message": "hi"}))
	n, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "5", n["tradie_id"])
	assert.Equal(t, "hi", n["last_message"])
	assert.False(t, n.Time("created_at").IsZero())

	require.NoError(t, s.Set(ctx, p, Node{"tradie_id": "7"}))
	n, err = s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, Node{"tradie_id": "7"}, n)

	require.NoError(t, s.Remove(ctx, p))
	_, err = s.Get(ctx, p)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestRedisStore_ChildrenAndIncrement(t *testing.T) {
	s, root := newRedisTestStore(t)
	ctx := context.Background()
	parent := Join(root, "messages")
	for _, id := range []string{"1", "2", "10"} {
		require.NoError(t, s.Set(ctx, Join(parent, id), Node{"content": id}))
	}
	kids, err := s.Children(ctx, parent, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "10"}, kids)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, Join(root, "counter"), "seq", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	n, err := s.Increment(ctx, Join(root, "counter"), "seq", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)
}
