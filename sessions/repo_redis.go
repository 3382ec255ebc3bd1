package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

const (
	// ExpiryGrace is added to the idle timeout when setting key expiry, so the
	// store's own idle check decides eviction and Redis only collects leftovers.
	ExpiryGrace = time.Minute

	// DefaultHoldTTL bounds a hold left behind by an instance that died mid-request.
	DefaultHoldTTL = time.Hour
)

const (
	sessionKeyType = "session"
	holdKeyType    = "hold"
)

var _ HoldingRepo = (*RedisRepo)(nil)

// A held session is stored without expiry.
var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return redis.call('SET', KEYS[1], ARGV[1])
end
return redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
`)

var pinScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
redis.call('PERSIST', KEYS[1])
return 1
`)

var unpinScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[2])
if n > 0 then
  return n
end
redis.call('DEL', KEYS[2])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 0
`)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string // e.g. "bff:"

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisRepo stores sealed sessions in Redis so several gateway instances can
// share them. Keys expire ExpiryGrace after the session idle timeout and the
// expiry slides every time the session is saved. A session pinned by an
// in-flight request on any instance does not expire until it is unpinned.
type RedisRepo struct {
	client    redis.UniversalClient
	keyPrefix string
	sealer    *Sealer
}

// NewRedisRepo connects to Redis and verifies the connection.
func NewRedisRepo(ctx context.Context, cfg RedisConfig, sealer *Sealer) (*RedisRepo, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if sealer == nil {
		return nil, errors.New("session sealer is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisRepoWithClient(client, cfg.KeyPrefix, sealer), nil
}

// NewRedisRepoWithClient creates a RedisRepo with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisRepoWithClient(client redis.UniversalClient, keyPrefix string, sealer *Sealer) *RedisRepo {
	return &RedisRepo{
		client:    client,
		keyPrefix: keyPrefix,
		sealer:    sealer,
	}
}

// Client returns the underlying client, for sharing the connection with other
// gateway state.
func (r *RedisRepo) Client() redis.UniversalClient {
	return r.client
}

// KeyPrefix returns the configured key prefix.
func (r *RedisRepo) KeyPrefix() string {
	return r.keyPrefix
}

// Close closes the Redis client connection.
func (r *RedisRepo) Close() error {
	return r.client.Close()
}

// Ping checks Redis connectivity (health check).
func (r *RedisRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepo) key(sessionID string) string {
	return r.keyPrefix + sessionKeyType + ":" + sessionID
}

func (r *RedisRepo) holdKey(sessionID string) string {
	return r.keyPrefix + holdKeyType + ":" + sessionID
}

func (r *RedisRepo) keys(sessionID string) []string {
	return []string{r.key(sessionID), r.holdKey(sessionID)}
}

// Save seals and stores the session. It expires ExpiryGrace after its idle
// timeout unless it is pinned.
func (r *RedisRepo) Save(ctx context.Context, session Session) error {
	if session.ID == "" {
		return errors.New("sessionID is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	sealed, err := r.sealer.Seal(session.ID, payload)
	if err != nil {
		return err
	}
	ttl := session.IdleTimeout + ExpiryGrace
	if err := saveScript.Run(ctx, r.client, r.keys(session.ID), sealed, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get loads and opens a session.
func (r *RedisRepo) Get(ctx context.Context, sessionID string) (Session, error) {
	sealed, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, bfferrors.ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	payload, err := r.sealer.Open(sessionID, sealed)
	if err != nil {
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

// Delete removes a session and any pins on it.
func (r *RedisRepo) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.keys(sessionID)...).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List scans for all session keys under the prefix.
func (r *RedisRepo) List(ctx context.Context) ([]string, error) {
	prefix := r.key("")
	var ids []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// Pin stops the session from expiring until every pin is released.
func (r *RedisRepo) Pin(ctx context.Context, sessionID string) error {
	if err := pinScript.Run(ctx, r.client, r.keys(sessionID), DefaultHoldTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to pin session: %w", err)
	}
	return nil
}

// Unpin releases one pin. The last one restores expiry after ttl plus
// ExpiryGrace.
func (r *RedisRepo) Unpin(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := unpinScript.Run(ctx, r.client, r.keys(sessionID), (ttl + ExpiryGrace).Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to unpin session: %w", err)
	}
	return nil
}

// Held reports whether any instance has the session pinned.
func (r *RedisRepo) Held(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.holdKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session hold: %w", err)
	}
	return n > 0, nil
}
