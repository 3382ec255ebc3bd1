package authflowrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/redis/go-redis/v9"
)

const authFlowKeyType = "authflow"

var _ Repo = (*RedisRepo)(nil)

// RedisRepo shares authorization flows between gateway instances, so the
// callback may land on a different instance than the login. Records are
// sealed and bound to their state. Redis drops abandoned flows after the TTL.
type RedisRepo struct {
	client    redis.UniversalClient
	keyPrefix string
	sealer    *sessions.Sealer
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisRepo stores flows on client under keyPrefix + "authflow:".
func NewRedisRepo(client redis.UniversalClient, keyPrefix string, sealer *sessions.Sealer, ttl time.Duration) *RedisRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRepo{
		client:    client,
		keyPrefix: keyPrefix,
		sealer:    sealer,
		ttl:       ttl,
		now:       time.Now,
	}
}

// WithClock replaces the time source used to stamp new flows.
func (r *RedisRepo) WithClock(now func() time.Time) *RedisRepo {
	r.now = now
	return r
}

func (r *RedisRepo) key(state string) string {
	return r.keyPrefix + authFlowKeyType + ":" + state
}

// Upsert seals and stores the flow with the repo TTL.
func (r *RedisRepo) Upsert(ctx context.Context, state string, authState *AuthFlowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if authState == nil {
		return errors.New("authState cannot be nil")
	}

	stored := *authState
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal auth flow state: %w", err)
	}
	sealed, err := r.sealer.Seal(state, payload)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(state), sealed, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store auth flow state: %w", err)
	}
	return nil
}

// Consume reads and deletes the flow in one step, so two instances racing on
// the same callback cannot both accept it.
func (r *RedisRepo) Consume(ctx context.Context, state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, bfferrors.ErrInvalidState
	}

	sealed, err := r.client.GetDel(ctx, r.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, bfferrors.ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth flow state: %w", err)
	}
	payload, err := r.sealer.Open(state, sealed)
	if err != nil {
		return nil, bfferrors.Wrapf(bfferrors.ErrInvalidState, "auth flow state does not open")
	}
	var out AuthFlowState
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth flow state: %w", err)
	}
	if r.now().Sub(out.CreatedAt) >= r.ttl {
		return nil, bfferrors.Wrapf(bfferrors.ErrInvalidState, "authorization flow expired")
	}
	return &out, nil
}

// Delete removes a flow.
func (r *RedisRepo) Delete(ctx context.Context, state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if err := r.client.Del(ctx, r.key(state)).Err(); err != nil {
		return fmt.Errorf("failed to delete auth flow state: %w", err)
	}
	return nil
}
