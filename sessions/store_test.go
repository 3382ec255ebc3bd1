package sessions_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/stretchr/testify/require"
)

const (
	testSessionID = "session-abcdef123456"
	testProvider  = "oidc"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFixture struct {
	clock *fakeClock
	repo  *sessions.InMemoryRepo
	store *sessions.Store
}

func setupStore(t *testing.T, refresher sessions.Refresher) *storeFixture {
	t.Helper()

	clock := newFakeClock()
	repo := sessions.NewInMemoryRepo()
	store := sessions.NewStore(repo,
		sessions.WithClock(clock.Now),
		sessions.WithIdleTimeout(20*time.Minute),
		sessions.WithRefresher(refresher),
	)
	return &storeFixture{clock: clock, repo: repo, store: store}
}

func (f *storeFixture) tokens(access string, ttl time.Duration) sessions.TokenSet {
	return sessions.TokenSet{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		IDToken:      "id-token",
		Expiry:       f.clock.Now().Add(ttl),
	}
}

func TestStore_CreateAndGetAccessToken(t *testing.T) {
	f := setupStore(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, f.tokens("at-1", time.Hour)))

	token, ok := f.store.GetAccessToken(ctx, testSessionID)
	require.True(t, ok)
	require.Equal(t, "at-1", token)
	require.Equal(t, sessions.StateAuthenticated, f.store.State(ctx, testSessionID))

	_, ok = f.store.GetAccessToken(ctx, "unknown")
	require.False(t, ok)
	_, ok = f.store.GetAccessToken(ctx, "")
	require.False(t, ok)
}

func TestStore_CreateRequiresID(t *testing.T) {
	f := setupStore(t, nil)
	require.Error(t, f.store.Create(context.Background(), "", testProvider, f.tokens("at", time.Hour)))
}

func TestStore_IdleTimeoutSlides(t *testing.T) {
	f := setupStore(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, f.tokens("at-1", 2*time.Hour)))

	// Activity inside the window keeps the session alive.
	f.clock.Advance(15 * time.Minute)
	_, ok := f.store.GetAccessToken(ctx, testSessionID)
	require.True(t, ok)

	f.clock.Advance(15 * time.Minute)
	_, ok = f.store.GetAccessToken(ctx, testSessionID)
	require.True(t, ok)

	f.clock.Advance(20 * time.Minute)
	_, ok = f.store.GetAccessToken(ctx, testSessionID)
	require.False(t, ok)
	require.Equal(t, sessions.StateAnonymous, f.store.State(ctx, testSessionID))

	_, err := f.repo.Get(ctx, testSessionID)
	require.ErrorIs(t, err, bfferrors.ErrSessionNotFound)
}

func TestStore_ExpiredTokenIsRefreshed(t *testing.T) {
	var calls atomic.Int32
	refresher := sessions.RefresherFunc(func(_ context.Context, provider string, current sessions.TokenSet) (sessions.TokenSet, error) {
		calls.Add(1)
		require.Equal(t, testProvider, provider)
		require.Equal(t, "refresh-at-1", current.RefreshToken)
		return sessions.TokenSet{AccessToken: "at-2", Expiry: time.Now().Add(100 * 365 * 24 * time.Hour)}, nil
	})
	f := setupStore(t, refresher)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, f.tokens("at-1", time.Minute)))

	f.clock.Advance(2 * time.Minute)
	require.Equal(t, sessions.StateExpired, f.store.State(ctx, testSessionID))

	token, ok := f.store.GetAccessToken(ctx, testSessionID)
	require.True(t, ok)
	require.Equal(t, "at-2", token)
	require.Equal(t, int32(1), calls.Load())

	// Non-rotating providers keep the previous refresh and ID tokens.
	session, ok := f.store.Session(ctx, testSessionID)
	require.True(t, ok)
	require.Equal(t, "refresh-at-1", session.Tokens.RefreshToken)
	require.Equal(t, "id-token", session.Tokens.IDToken)
}

func TestStore_ExpiredTokenWithoutRefreshTokenDestroysSession(t *testing.T) {
	f := setupStore(t, sessions.RefresherFunc(func(context.Context, string, sessions.TokenSet) (sessions.TokenSet, error) {
		t.Fatal("refresher must not be called")
		return sessions.TokenSet{}, nil
	}))
	ctx := context.Background()

	tokens := f.tokens("at-1", time.Minute)
	tokens.RefreshToken = ""
	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, tokens))

	f.clock.Advance(2 * time.Minute)
	_, ok := f.store.GetAccessToken(ctx, testSessionID)
	require.False(t, ok)
	require.Equal(t, sessions.StateAnonymous, f.store.State(ctx, testSessionID))
}

func TestStore_RefreshFailureDestroysSession(t *testing.T) {
	upstreamErr := errors.New("invalid_grant")
	f := setupStore(t, sessions.RefresherFunc(func(context.Context, string, sessions.TokenSet) (sessions.TokenSet, error) {
		return sessions.TokenSet{}, upstreamErr
	}))
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, f.tokens("at-1", time.Hour)))

	_, err := f.store.Refresh(ctx, testSessionID)
	require.ErrorIs(t, err, bfferrors.ErrRefreshFailed)
	require.ErrorIs(t, err, upstreamErr)

	_, ok := f.store.GetAccessToken(ctx, testSessionID)
	require.False(t, ok)

	_, err = f.store.Refresh(ctx, testSessionID)
	require.ErrorIs(t, err, bfferrors.ErrSessionNotFound)
}

func TestStore_ConcurrentRefreshCallsUpstreamOnce(t *testing.T) {
	const callers = 16

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	refresher := sessions.RefresherFunc(func(context.Context, string, sessions.TokenSet) (sessions.TokenSet, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return sessions.TokenSet{AccessToken: "at-2", RefreshToken: "rt-2", Expiry: time.Now().Add(100 * 365 * 24 * time.Hour)}, nil
	})
	f := setupStore(t, refresher)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, f.tokens("at-1", time.Hour)))

	var ready, done sync.WaitGroup
	results := make([]sessions.TokenSet, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			ready.Done()
			results[i], errs[i] = f.store.Refresh(ctx, testSessionID)
		}(i)
	}

	ready.Wait()
	<-started
	require.Equal(t, sessions.StateRefreshing, f.store.State(ctx, testSessionID))
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "at-2", results[i].AccessToken)
		require.Equal(t, "rt-2", results[i].RefreshToken)
	}
}

func TestStore_RefreshStaleSkipsUpstreamWhenAlreadyRotated(t *testing.T) {
	var calls atomic.Int32
	f := setupStore(t, sessions.RefresherFunc(func(context.Context, string, sessions.TokenSet) (sessions.TokenSet, error) {
		n := calls.Add(1)
		return sessions.TokenSet{AccessToken: "at-" + string(rune('1'+n)), Expiry: time.Now().Add(100 * 365 * 24 * time.Hour)}, nil
	}))
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, f.tokens("at-1", time.Hour)))

	tokens, err := f.store.RefreshStale(ctx, testSessionID, "at-1")
	require.NoError(t, err)
	require.Equal(t, "at-2", tokens.AccessToken)

	// A second caller that also used at-1 gets the rotated token.
	tokens, err = f.store.RefreshStale(ctx, testSessionID, "at-1")
	require.NoError(t, err)
	require.Equal(t, "at-2", tokens.AccessToken)
	require.Equal(t, int32(1), calls.Load())
}

func TestStore_HoldPreventsIdleEviction(t *testing.T) {
	f := setupStore(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, f.tokens("at-1", 2*time.Hour)))

	_, ok := f.store.GetAccessToken(ctx, testSessionID)
	require.True(t, ok)
	release := f.store.Hold(ctx, testSessionID)

	f.clock.Advance(30 * time.Minute)
	evicted, err := f.store.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, evicted)

	release()
	release()

	evicted, err = f.store.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)

	_, ok = f.store.GetAccessToken(ctx, testSessionID)
	require.False(t, ok)
}

func TestStore_SweepKeepsActiveSessions(t *testing.T) {
	f := setupStore(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, "idle-session", testProvider, f.tokens("at-1", 2*time.Hour)))

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.store.Create(ctx, "active-session", testProvider, f.tokens("at-2", 2*time.Hour)))

	f.clock.Advance(15 * time.Minute)
	evicted, err := f.store.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)

	ids, err := f.repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"active-session"}, ids)
}

func TestStore_SignOut(t *testing.T) {
	f := setupStore(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, testSessionID, testProvider, f.tokens("at-1", time.Hour)))

	require.NoError(t, f.store.SignOut(ctx, testSessionID))
	_, ok := f.store.GetAccessToken(ctx, testSessionID)
	require.False(t, ok)

	// Signing out twice is not an error.
	require.NoError(t, f.store.SignOut(ctx, testSessionID))
}

func TestStore_SessionsAreIndependent(t *testing.T) {
	f := setupStore(t, sessions.RefresherFunc(func(context.Context, string, sessions.TokenSet) (sessions.TokenSet, error) {
		return sessions.TokenSet{}, errors.New("boom")
	}))
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, "a", testProvider, f.tokens("at-a", time.Hour)))
	require.NoError(t, f.store.Create(ctx, "b", testProvider, f.tokens("at-b", time.Hour)))

	_, err := f.store.Refresh(ctx, "a")
	require.Error(t, err)

	token, ok := f.store.GetAccessToken(ctx, "b")
	require.True(t, ok)
	require.Equal(t, "at-b", token)
}

func TestNewSessionID(t *testing.T) {
	a, err := sessions.NewSessionID()
	require.NoError(t, err)
	b, err := sessions.NewSessionID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 43)
}
