package mockidp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/device-flow-session/internal/validation"
)

const (
	devicePrefix = "device:"
	userPrefix   = "user:"
	pollPrefix   = "poll:"
)

// RedisRegistry implements the Registry interface using Redis
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry creates a new Redis-backed registry
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// CheckHealth verifies Redis connectivity
func (s *RedisRegistry) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Save stores an authorization for its lifetime plus Retention. The lifetime
// is measured from CreatedAt so the TTL follows the server clock.
func (s *RedisRegistry) Save(ctx context.Context, auth *Authorization) error {
	ttl := auth.ExpiresAt.Sub(auth.CreatedAt) + Retention
	if ttl <= 0 {
		return errors.New("authorization has already expired")
	}

	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("marshaling authorization: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, devicePrefix+auth.DeviceCode, data, ttl)
	pipe.Set(ctx, userPrefix+validation.NormalizeCode(auth.UserCode), auth.DeviceCode, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving authorization: %w", err)
	}

	return nil
}

// Get retrieves an authorization by device code
func (s *RedisRegistry) Get(ctx context.Context, deviceCode string) (*Authorization, error) {
	data, err := s.client.Get(ctx, devicePrefix+deviceCode).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting authorization: %w", err)
	}

	var auth Authorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("unmarshaling authorization: %w", err)
	}

	return &auth, nil
}

// GetByUserCode retrieves an authorization using the user code
func (s *RedisRegistry) GetByUserCode(ctx context.Context, userCode string) (*Authorization, error) {
	deviceCode, err := s.client.Get(ctx, userPrefix+validation.NormalizeCode(userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user code reference: %w", err)
	}

	return s.Get(ctx, deviceCode)
}

// Transition updates the status inside a WATCH transaction so a concurrent
// delete or transition cannot be overwritten.
func (s *RedisRegistry) Transition(ctx context.Context, deviceCode string, from, to Status) (bool, error) {
	key := devicePrefix + deviceCode
	changed := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var auth Authorization
		if err := json.Unmarshal(data, &auth); err != nil {
			return fmt.Errorf("unmarshaling authorization: %w", err)
		}
		if auth.Status != from {
			return nil
		}

		auth.Status = to
		updated, err := json.Marshal(&auth)
		if err != nil {
			return fmt.Errorf("marshaling authorization: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}, key)
	if err != nil {
		return false, fmt.Errorf("updating authorization status: %w", err)
	}

	return changed, nil
}

// RecordPoll swaps in the new poll timestamp and returns the previous one
func (s *RedisRegistry) RecordPoll(ctx context.Context, deviceCode string, at time.Time) (time.Time, error) {
	prev, err := s.client.SetArgs(ctx, pollPrefix+deviceCode, at.UnixNano(), redis.SetArgs{
		Get: true,
		TTL: Retention,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("recording poll: %w", err)
	}

	nanos, err := strconv.ParseInt(prev, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing poll timestamp: %w", err)
	}
	return time.Unix(0, nanos), nil
}

// Delete removes an authorization and associated keys
func (s *RedisRegistry) Delete(ctx context.Context, deviceCode string) error {
	auth, err := s.Get(ctx, deviceCode)
	if err != nil {
		return err
	}
	if auth == nil {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, devicePrefix+deviceCode, userPrefix+validation.NormalizeCode(auth.UserCode), pollPrefix+deviceCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting authorization: %w", err)
	}

	return nil
}
