package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store persists session records in Redis. Save is a plain SET, so writing a
// record for an existing session ID replaces the previous state wholesale;
// that is the mechanism by which a fresh login discards a stale pending step.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a Store namespaced under prefix.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  redis,
		prefix: prefix,
	}
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.prefix + ":s:" + normalizeTenantID(tenantID) + ":" + sessionID
}

func (s *Store) userKey(tenantID, userID string) string {
	return s.prefix + ":u:" + normalizeTenantID(tenantID) + ":" + userID
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Save persists a record with the given TTL and indexes it under the user's
// session set so DeleteAllForUser can find it.
func (s *Store) Save(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	sessionKey := s.key(rec.TenantID, rec.SessionID)
	userKey := s.userKey(rec.TenantID, rec.UserID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, ttl)
		pipe.SAdd(ctx, userKey, rec.SessionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get retrieves a record by tenant and session ID. Expired records are
// removed and reported as redis.Nil, same as missing ones.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*Record, error) {
	key := s.key(tenantID, sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID

	if time.Now().Unix() > rec.ExpiresAt {
		if err := s.Delete(ctx, rec.TenantID, rec.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, redis.Nil
	}

	return rec, nil
}

// Delete removes a session record and its user index entry. Deleting a
// session that does not exist is not an error.
func (s *Store) Delete(ctx context.Context, tenantID, userID, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(tenantID, sessionID))
		pipe.SRem(ctx, s.userKey(tenantID, userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every indexed session for a user within a tenant.
// A session created concurrently with this call can escape the sweep; it
// expires on its own TTL.
func (s *Store) DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	userKey := s.userKey(tenantID, userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sessionID := range sessionIDs {
			pipe.Del(ctx, s.key(tenantID, sessionID))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return len(sessionIDs), nil
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
