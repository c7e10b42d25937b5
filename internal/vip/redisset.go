package vip

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// redisSetKey is the single Redis set the VIP CSV-upload collaborator
// (out of scope, see spec.md section 1) populates.
const redisSetKey = "vip:users"

// RedisSet implements Set over a Redis SET via SISMEMBER, using the
// same client hotstate.redisstore wires.
type RedisSet struct {
	rdb *redis.Client
}

// NewRedisSet wraps an already-connected client.
func NewRedisSet(rdb *redis.Client) *RedisSet {
	return &RedisSet{rdb: rdb}
}

func (s *RedisSet) IsMember(ctx context.Context, userID string) (bool, error) {
	return s.rdb.SIsMember(ctx, redisSetKey, userID).Result()
}
