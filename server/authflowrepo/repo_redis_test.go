package authflowrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/server/authflowrepo"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type redisFixture struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	sealer *sessions.Sealer
}

func setupRedis(t *testing.T) *redisFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	key, err := sessions.GenerateKey()
	require.NoError(t, err)
	sealer, err := sessions.NewSealer(key)
	require.NoError(t, err)

	return &redisFixture{mr: mr, client: client, sealer: sealer}
}

func (f *redisFixture) repo() *authflowrepo.RedisRepo {
	return authflowrepo.NewRedisRepo(f.client, "bff:", f.sealer, 10*time.Minute)
}

func TestRedisRepo_ConsumeOnceAcrossInstances(t *testing.T) {
	f := setupRedis(t)
	ctx := context.Background()
	login, callback := f.repo(), f.repo()

	require.NoError(t, login.Upsert(ctx, "state-1", &authflowrepo.AuthFlowState{
		Provider:     "oidc",
		Nonce:        "n",
		CodeVerifier: "v",
		RedirectURI:  "https://app.example.com/account/callback",
	}))
	require.Equal(t, 10*time.Minute, f.mr.TTL("bff:authflow:state-1"))

	raw, err := f.mr.Get("bff:authflow:state-1")
	require.NoError(t, err)
	require.NotContains(t, raw, "\"v\"")

	got, err := callback.Consume(ctx, "state-1")
	require.NoError(t, err)
	require.Equal(t, "oidc", got.Provider)
	require.Equal(t, "n", got.Nonce)
	require.Equal(t, "v", got.CodeVerifier)
	require.Equal(t, "https://app.example.com/account/callback", got.RedirectURI)
	require.False(t, got.CreatedAt.IsZero())

	_, err = login.Consume(ctx, "state-1")
	require.ErrorIs(t, err, bfferrors.ErrInvalidState)
	_, err = callback.Consume(ctx, "")
	require.ErrorIs(t, err, bfferrors.ErrInvalidState)
}

func TestRedisRepo_Expiry(t *testing.T) {
	f := setupRedis(t)
	ctx := context.Background()
	repo := f.repo()

	require.NoError(t, repo.Upsert(ctx, "state-1", &authflowrepo.AuthFlowState{Provider: "oidc"}))
	f.mr.FastForward(11 * time.Minute)

	_, err := repo.Consume(ctx, "state-1")
	require.ErrorIs(t, err, bfferrors.ErrInvalidState)
}

func TestRedisRepo_StateBoundRecords(t *testing.T) {
	f := setupRedis(t)
	ctx := context.Background()
	repo := f.repo()

	require.NoError(t, repo.Upsert(ctx, "state-1", &authflowrepo.AuthFlowState{Provider: "oidc"}))
	raw, err := f.mr.Get("bff:authflow:state-1")
	require.NoError(t, err)
	require.NoError(t, f.mr.Set("bff:authflow:state-2", raw))

	_, err = repo.Consume(ctx, "state-2")
	require.ErrorIs(t, err, bfferrors.ErrInvalidState)
}

func TestRedisRepo_Delete(t *testing.T) {
	f := setupRedis(t)
	ctx := context.Background()
	repo := f.repo()

	require.NoError(t, repo.Upsert(ctx, "state-1", &authflowrepo.AuthFlowState{Provider: "oidc"}))
	require.NoError(t, repo.Delete(ctx, "state-1"))
	require.False(t, f.mr.Exists("bff:authflow:state-1"))

	require.Error(t, repo.Delete(ctx, ""))
	require.Error(t, repo.Upsert(ctx, "", &authflowrepo.AuthFlowState{}))
	require.Error(t, repo.Upsert(ctx, "s", nil))
}
