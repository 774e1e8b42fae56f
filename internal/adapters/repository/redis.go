package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/okian/presence/internal/domain/attempts"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/pkg/logger"
)

const (
	counterKeyPrefix         = "presence:gps_invalid:"
	defaultCounterTTLSeconds = 2 * 24 * 60 * 60
)

// registerScript appends an attempt unless the list already holds limit
// entries. The list length is the attempt count, so the two cannot drift.
// Returns {count_after, blocked}.
var registerScript = redis.NewScript(`
local count = redis.call('LLEN', KEYS[1])
if count >= tonumber(ARGV[1]) then
  return {count, 1}
end
redis.call('RPUSH', KEYS[1], ARGV[2])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return {count + 1, 0}
`)

// RedisCounter implements attempts.Counter on Redis so the limit holds
// across service replicas.
type RedisCounter struct {
	client *redis.Client
	ttl    int64
	logger logger.Logger
}

// NewRedisCounter connects to addr and verifies the connection.
func NewRedisCounter(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisCounter, error) {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	cfg.logger.Info(ctx, "connected to redis", logger.String("addr", addr), logger.Int("db", db))
	return &RedisCounter{client: client, ttl: cfg.counterTTL, logger: cfg.logger}, nil
}

// CounterKey returns the Redis key for an attempt key.
func CounterKey(key model.AttemptKey) string {
	return counterKeyPrefix + key.String()
}

// Register implements attempts.Counter.
func (r *RedisCounter) Register(ctx context.Context, key model.AttemptKey, attempt model.GPSAttempt, limit int) (attempts.Outcome, error) {
	if err := attempts.Validate(key); err != nil {
		return attempts.Outcome{}, err
	}
	payload, err := json.Marshal(attempt)
	if err != nil {
		return attempts.Outcome{}, fmt.Errorf("encode attempt: %w", err)
	}
	res, err := registerScript.Run(ctx, r.client, []string{CounterKey(key)}, limit, payload, r.ttl).Int64Slice()
	if err != nil {
		return attempts.Outcome{}, fmt.Errorf("register attempt: %w", err)
	}
	if len(res) != 2 {
		return attempts.Outcome{}, fmt.Errorf("register attempt: unexpected reply %v", res)
	}
	return outcomeFromReply(int(res[0]), res[1] == 1, limit), nil
}

func outcomeFromReply(count int, blocked bool, limit int) attempts.Outcome {
	if blocked {
		return attempts.Outcome{AttemptNumber: count, Blocked: true}
	}
	return attempts.Outcome{AttemptNumber: count, Remaining: max(0, limit-count)}
}

// Get implements attempts.Counter.
func (r *RedisCounter) Get(ctx context.Context, key model.AttemptKey) (model.GPSInvalidCounter, error) {
	if err := attempts.Validate(key); err != nil {
		return model.GPSInvalidCounter{}, err
	}
	raw, err := r.client.LRange(ctx, CounterKey(key), 0, -1).Result()
	if err != nil {
		return model.GPSInvalidCounter{}, fmt.Errorf("read attempts: %w", err)
	}
	return decodeCounter(key, raw)
}

func decodeCounter(key model.AttemptKey, raw []string) (model.GPSInvalidCounter, error) {
	c := model.GPSInvalidCounter{Key: key}
	for _, s := range raw {
		var a model.GPSAttempt
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			return model.GPSInvalidCounter{}, fmt.Errorf("decode attempt: %w", err)
		}
		c.Attempts = append(c.Attempts, a)
	}
	c.AttemptCount = len(c.Attempts)
	if c.AttemptCount > 0 {
		c.LastAttemptTime = c.Attempts[c.AttemptCount-1].Timestamp
	}
	return c, nil
}

// Ping checks the connection.
func (r *RedisCounter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisCounter) Close() error {
	return r.client.Close()
}
