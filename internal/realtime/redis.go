package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rt:"

// writeScript performs set / nx / update on a node hash, resolves
// ServerTimestamp values against the Redis clock and registers the node in
// its parent's child index.
//
// KEYS[1] node hash, KEYS[2] parent child index (zset), KEYS[3] parent seq
// ARGV[1] mode, ARGV[2] child name, ARGV[3] sentinel, ARGV[4..] field/value pairs
var writeScript = redis.NewScript(`
local mode = ARGV[1]
local exists = redis.call('EXISTS', KEYS[1]) == 1
if mode == 'nx' and exists then
  return 0
end
local t = redis.call('TIME')
local now = tostring(tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000))
local args = {}
for i = 4, #ARGV, 2 do
  local v = ARGV[i + 1]
  if v == ARGV[3] then v = now end
  table.insert(args, ARGV[i])
  table.insert(args, v)
end
if mode == 'set' then
  redis.call('DEL', KEYS[1])
end
if #args > 0 then
  redis.call('HSET', KEYS[1], unpack(args))
end
if redis.call('ZSCORE', KEYS[2], ARGV[2]) == false then
  local n = redis.call('INCR', KEYS[3])
  redis.call('ZADD', KEYS[2], n, ARGV[2])
end
return 1
`)

// RedisStore keeps each node in a Redis hash under "rt:<path>" and each
// parent's children in a sorted set scored by insertion sequence.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func nodeKey(p string) string     { return keyPrefix + p }
func childrenKey(p string) string { return keyPrefix + p + "#children" }
func seqKey(p string) string      { return keyPrefix + p + "#seq" }

func (s *RedisStore) write(ctx context.Context, mode, p string, fields Node) (bool, error) {
	parent, name := parentOf(p)
	args := make([]any, 0, 3+len(fields)*2)
	args = append(args, mode, name, ServerTimestamp)
	for k, v := range fields {
		args = append(args, k, v)
	}
	keys := []string{nodeKey(p), childrenKey(parent), seqKey(parent)}
	n, err := writeScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return false, unavailable(mode, p, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, p string) (Node, error) {
	m, err := s.rdb.HGetAll(ctx, nodeKey(p)).Result()
	if err != nil {
		return nil, unavailable("get", p, err)
	}
	if len(m) == 0 {
		return nil, ErrNodeNotFound
	}
	return Node(m), nil
}

func (s *RedisStore) Set(ctx context.Context, p string, fields Node) error {
	_, err := s.write(ctx, "set", p, fields)
	return err
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, p string, fields Node) (bool, error) {
	return s.write(ctx, "nx", p, fields)
}

func (s *RedisStore) Update(ctx context.Context, p string, fields Node) error {
	_, err := s.write(ctx, "update", p, fields)
	return err
}

func (s *RedisStore) Remove(ctx context.Context, p string) error {
	parent, name := parentOf(p)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, nodeKey(p))
		pipe.ZRem(ctx, childrenKey(parent), name)
		return nil
	})
	return unavailable("remove", p, err)
}

func (s *RedisStore) Increment(ctx context.Context, p, field string, delta int64) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, nodeKey(p), field, delta).Result()
	if err != nil {
		return 0, unavailable("increment", p, err)
	}
	return n, nil
}

func (s *RedisStore) Children(ctx context.Context, p string, offset, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("realtime children %s: limit must be positive", p)
	}
	names, err := s.rdb.ZRange(ctx, childrenKey(p), offset, offset+limit-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("children", p, err)
	}
	return names, nil
}
