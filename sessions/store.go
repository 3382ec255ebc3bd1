package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	DefaultIdleTimeout    = 20 * time.Minute
	DefaultRefreshTimeout = 30 * time.Second
)

// entry is the per-session serialization point. It lives only in this
// process; the session record itself lives in the Repo.
type entry struct {
	mu         sync.Mutex
	inflight   atomic.Int32
	refreshing atomic.Bool
}

// Store owns the mapping from session identifier to TokenSet.
//
// Operations on one session are serialized by that session's mutex; different
// sessions never contend. Refreshes are collapsed per session so that a
// refresh token is never presented upstream twice concurrently.
type Store struct {
	repo           Repo
	refresher      Refresher
	idleTimeout    time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	metrics        *metrics.Recorder

	entries sync.Map // sessionID -> *entry
	flight  singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithIdleTimeout sets the inactivity period after which sessions are abandoned.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithRefresher sets the upstream token refresher.
func WithRefresher(r Refresher) Option {
	return func(s *Store) {
		s.refresher = r
	}
}

// WithRefreshTimeout bounds a single upstream refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMetrics records session lifecycle events.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a session store over repo.
func NewStore(repo Repo, opts ...Option) *Store {
	s := &Store{
		repo:           repo,
		idleTimeout:    DefaultIdleTimeout,
		refreshTimeout: DefaultRefreshTimeout,
		now:            func() time.Time { return NowTimeFunc() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.ObserveSessions(s.storedSessions)
	return s
}

// Count returns the number of sessions in the repo. With a shared repo this
// includes sessions created by other instances.
func (s *Store) Count(ctx context.Context) (int, error) {
	ids, err := s.repo.List(ctx)
	if err != nil {
		return 0, bfferrors.Wrapf(err, "[Store Count] failed to list sessions")
	}
	return len(ids), nil
}

func (s *Store) storedSessions() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()
	n, err := s.Count(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count sessions")
		return math.NaN()
	}
	return float64(n)
}

// IdleTimeout returns the configured idle timeout.
func (s *Store) IdleTimeout() time.Duration {
	return s.idleTimeout
}

// NewSessionID generates a random, URL-safe session identifier.
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Store) entry(sessionID string) *entry {
	if e, ok := s.entries.Load(sessionID); ok {
		return e.(*entry)
	}
	e, _ := s.entries.LoadOrStore(sessionID, &entry{})
	return e.(*entry)
}

// Create stores a freshly authenticated session.
func (s *Store) Create(ctx context.Context, sessionID, provider string, tokens TokenSet) error {
	if sessionID == "" {
		return bfferrors.New("sessionID is required")
	}

	e := s.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	session := Session{
		ID:          sessionID,
		Provider:    provider,
		CreatedAt:   now,
		LastAccess:  now,
		IdleTimeout: s.idleTimeout,
		Tokens:      tokens,
	}
	if err := s.repo.Save(ctx, session); err != nil {
		return bfferrors.Wrapf(err, "[Store Create] failed to save session")
	}
	s.metrics.SessionCreated()
	log.Debug().Str("session", shortID(sessionID)).Str("provider", provider).Msg("session created")
	return nil
}

// load returns the live session. Must be called with e.mu held. An idle
// session that no request is holding is destroyed on the way.
func (s *Store) load(ctx context.Context, sessionID string, e *entry) (Session, bool) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if !bfferrors.Is(err, bfferrors.ErrSessionNotFound) {
			log.Error().Err(err).Str("session", shortID(sessionID)).Msg("failed to load session")
		}
		return Session{}, false
	}
	if session.IdleExpired(s.now()) && !s.held(ctx, sessionID, e) {
		s.destroy(ctx, sessionID, "idle timeout")
		s.metrics.SessionEvicted()
		return Session{}, false
	}
	return session, true
}

// destroy removes the session record. Must be called with the entry mutex held.
func (s *Store) destroy(ctx context.Context, sessionID, reason string) {
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("session", shortID(sessionID)).Msg("failed to delete session")
	}
	s.entries.Delete(sessionID)
	log.Debug().Str("session", shortID(sessionID)).Str("reason", reason).Msg("session destroyed")
}

// touch slides the idle window. Must be called with the entry mutex held.
func (s *Store) touch(ctx context.Context, session Session) {
	session.LastAccess = s.now()
	if err := s.repo.Save(ctx, session); err != nil {
		log.Warn().Err(err).Str("session", shortID(session.ID)).Msg("failed to renew session")
	}
}

// GetAccessToken returns the session's access token. The result is absent
// when there is no session, the session went idle, or the token expired and
// could not be refreshed. The idle window slides only when a token is returned.
func (s *Store) GetAccessToken(ctx context.Context, sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}

	e := s.entry(sessionID)
	e.mu.Lock()
	session, ok := s.load(ctx, sessionID, e)
	if !ok {
		e.mu.Unlock()
		return "", false
	}

	if !session.Tokens.Expired(s.now()) {
		s.touch(ctx, session)
		e.mu.Unlock()
		return session.Tokens.AccessToken, true
	}

	if !session.Tokens.CanRefresh() || s.refresher == nil {
		s.destroy(ctx, sessionID, "token expired")
		s.metrics.SessionEvicted()
		e.mu.Unlock()
		return "", false
	}
	e.mu.Unlock()

	tokens, err := s.Refresh(ctx, sessionID)
	if err != nil {
		return "", false
	}
	return tokens.AccessToken, true
}

// Session returns a copy of the live session and slides its idle window.
func (s *Store) Session(ctx context.Context, sessionID string) (Session, bool) {
	if sessionID == "" {
		return Session{}, false
	}

	e := s.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := s.load(ctx, sessionID, e)
	if !ok {
		return Session{}, false
	}
	s.touch(ctx, session)
	return session, true
}

// Refresh obtains a new TokenSet for the session. Concurrent calls for the same
// session share a single upstream call and observe the same outcome. On
// failure the session is destroyed and the returned error matches
// errors.ErrRefreshFailed or errors.ErrSessionNotFound.
func (s *Store) Refresh(ctx context.Context, sessionID string) (TokenSet, error) {
	if sessionID == "" {
		return TokenSet{}, bfferrors.ErrSessionNotFound
	}

	ch := s.flight.DoChan(sessionID, func() (interface{}, error) {
		return s.refresh(ctx, sessionID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return TokenSet{}, res.Err
		}
		return res.Val.(TokenSet), nil
	case <-ctx.Done():
		return TokenSet{}, ctx.Err()
	}
}

// RefreshStale refreshes only if the session still holds staleAccessToken.
// A caller that lost the race to a concurrent refresh gets the new token
// without another upstream call.
func (s *Store) RefreshStale(ctx context.Context, sessionID, staleAccessToken string) (TokenSet, error) {
	e := s.entry(sessionID)
	e.mu.Lock()
	session, ok := s.load(ctx, sessionID, e)
	if !ok {
		e.mu.Unlock()
		return TokenSet{}, bfferrors.ErrSessionNotFound
	}
	if session.Tokens.AccessToken != staleAccessToken && !session.Tokens.Expired(s.now()) {
		s.touch(ctx, session)
		e.mu.Unlock()
		return session.Tokens, nil
	}
	e.mu.Unlock()
	return s.Refresh(ctx, sessionID)
}

func (s *Store) refresh(parent context.Context, sessionID string) (TokenSet, error) {
	// The shared call must outlive any single caller giving up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.refreshTimeout)
	defer cancel()

	e := s.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.refreshing.Store(true)
	defer e.refreshing.Store(false)

	session, ok := s.load(ctx, sessionID, e)
	if !ok {
		return TokenSet{}, bfferrors.ErrSessionNotFound
	}

	if !session.Tokens.CanRefresh() || s.refresher == nil {
		s.destroy(ctx, sessionID, "no refresh token")
		s.metrics.SessionEvicted()
		return TokenSet{}, fmt.Errorf("%w: %w", bfferrors.ErrRefreshFailed, bfferrors.ErrNoRefreshToken)
	}

	tokens, err := s.refresher.RefreshTokens(ctx, session.Provider, session.Tokens)
	if err != nil {
		s.metrics.Refresh(session.Provider, metrics.OutcomeFailure)
		log.Warn().Err(err).Str("session", shortID(sessionID)).Str("provider", session.Provider).Msg("token refresh failed")
		s.destroy(ctx, sessionID, "refresh failed")
		s.metrics.SessionEvicted()
		return TokenSet{}, fmt.Errorf("%w: %w", bfferrors.ErrRefreshFailed, err)
	}

	// Providers that do not rotate omit these from refresh responses.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = session.Tokens.RefreshToken
	}
	if tokens.IDToken == "" {
		tokens.IDToken = session.Tokens.IDToken
	}

	session.Tokens = tokens
	session.LastAccess = s.now()
	if err := s.repo.Save(ctx, session); err != nil {
		s.metrics.Refresh(session.Provider, metrics.OutcomeFailure)
		s.destroy(ctx, sessionID, "refresh not persisted")
		s.metrics.SessionEvicted()
		return TokenSet{}, fmt.Errorf("%w: %w", bfferrors.ErrRefreshFailed, err)
	}

	s.metrics.Refresh(session.Provider, metrics.OutcomeSuccess)
	log.Debug().Str("session", shortID(sessionID)).Str("provider", session.Provider).Msg("tokens refreshed")
	return tokens, nil
}

// SignOut destroys the session regardless of its state.
func (s *Store) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	e := s.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := s.repo.Get(ctx, sessionID); err != nil {
		s.entries.Delete(sessionID)
		if bfferrors.Is(err, bfferrors.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return bfferrors.Wrapf(err, "[Store SignOut] failed to delete session")
	}
	s.entries.Delete(sessionID)
	s.metrics.SessionSignedOut()
	return nil
}

// Hold marks a request using the session as in flight. Held sessions are not
// evicted for inactivity. With a HoldingRepo the hold is visible to every
// instance and keeps the record from expiring. The returned release function
// is idempotent.
func (s *Store) Hold(ctx context.Context, sessionID string) (release func()) {
	e := s.entry(sessionID)
	e.inflight.Add(1)

	holding, shared := s.repo.(HoldingRepo)
	pinned := false
	if shared {
		if err := holding.Pin(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session", shortID(sessionID)).Msg("failed to pin session")
		} else {
			pinned = true
		}
	}

	detached := context.WithoutCancel(ctx)
	return sync.OnceFunc(func() {
		if pinned {
			if err := holding.Unpin(detached, sessionID, s.idleTimeout); err != nil {
				log.Warn().Err(err).Str("session", shortID(sessionID)).Msg("failed to unpin session")
			}
		}
		e.inflight.Add(-1)
	})
}

// held reports whether a request on this instance, or on any instance sharing
// the repo, is using the session. An unanswerable check counts as held.
func (s *Store) held(ctx context.Context, sessionID string, e *entry) bool {
	if e.inflight.Load() > 0 {
		return true
	}
	holding, ok := s.repo.(HoldingRepo)
	if !ok {
		return false
	}
	held, err := holding.Held(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session", shortID(sessionID)).Msg("failed to check session hold")
		return true
	}
	return held
}

// State reports where the session is in its lifecycle. Sessions still in the
// authorization redirect are tracked by the authorization-flow store, so this
// never returns StateAuthenticating.
func (s *Store) State(ctx context.Context, sessionID string) State {
	if v, ok := s.entries.Load(sessionID); ok && v.(*entry).refreshing.Load() {
		return StateRefreshing
	}
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil || session.IdleExpired(s.now()) {
		return StateAnonymous
	}
	if session.Tokens.Expired(s.now()) {
		return StateExpired
	}
	return StateAuthenticated
}

// Sweep evicts idle sessions and forgets lock entries for sessions that no
// longer exist. Sessions that are busy or held are skipped.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	ids, err := s.repo.List(ctx)
	if err != nil {
		return 0, bfferrors.Wrapf(err, "[Store Sweep] failed to list sessions")
	}

	live := make(map[string]struct{}, len(ids))
	evicted := 0
	for _, id := range ids {
		live[id] = struct{}{}

		e := s.entry(id)
		if e.inflight.Load() > 0 || !e.mu.TryLock() {
			continue
		}
		session, err := s.repo.Get(ctx, id)
		if err == nil && session.IdleExpired(s.now()) && !s.held(ctx, id, e) {
			s.destroy(ctx, id, "idle timeout")
			s.metrics.SessionEvicted()
			evicted++
		}
		e.mu.Unlock()
	}

	s.entries.Range(func(key, value any) bool {
		id := key.(string)
		if _, ok := live[id]; ok {
			return true
		}
		e := value.(*entry)
		if e.inflight.Load() == 0 && e.mu.TryLock() {
			if _, err := s.repo.Get(ctx, id); bfferrors.Is(err, bfferrors.ErrSessionNotFound) {
				s.entries.Delete(id)
			}
			e.mu.Unlock()
		}
		return true
	})

	return evicted, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("starting session sweeper")
	for {
		select {
		case <-ticker.C:
			evicted, err := s.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("session sweep failed")
				continue
			}
			if evicted > 0 {
				log.Info().Int("evicted", evicted).Msg("evicted idle sessions")
			}
		case <-ctx.Done():
			log.Info().Msg("exiting session sweeper")
			return
		}
	}
}

// shortID keeps session identifiers out of logs while still correlating lines.
func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:6]
}
