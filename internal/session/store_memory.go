package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.vitreo.hu/authgate/domain"
)

// MemoryStore implements Store in process memory on top of ttlcache.
// Suitable for a single-instance deployment; use the Redis store when the
// gateway runs replicated.
type MemoryStore struct {
	// mu serializes state-nonce consumption. ttlcache is itself safe for
	// concurrent use but offers no compare-and-delete.
	mu       sync.Mutex
	states   *ttlcache.Cache[string, string]
	sessions *ttlcache.Cache[string, *domain.UserSession]
}

// NewMemoryStore creates a memory store. stateTTL bounds how long an
// in-flight authorization request may take; sessionTTL bounds the browser
// session lifetime.
func NewMemoryStore(stateTTL, sessionTTL time.Duration) *MemoryStore {
	states := ttlcache.New(
		ttlcache.WithTTL[string, string](stateTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	sessions := ttlcache.New(
		ttlcache.WithTTL[string, *domain.UserSession](sessionTTL),
		ttlcache.WithDisableTouchOnHit[string, *domain.UserSession](),
	)

	go states.Start()
	go sessions.Start()

	return &MemoryStore{
		states:   states,
		sessions: sessions,
	}
}

// CreateState implements Store.CreateState.
func (s *MemoryStore) CreateState(_ context.Context, sessionID string) (string, error) {
	nonce, err := newStateNonce()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states.Set(sessionID, nonce, ttlcache.DefaultTTL)
	return nonce, nil
}

// ConsumeState implements Store.ConsumeState. The comparison is constant
// time so a mismatch does not leak how much of the nonce was right.
func (s *MemoryStore) ConsumeState(_ context.Context, sessionID, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.states.Get(sessionID)
	if item == nil {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(item.Value()), []byte(state)) != 1 {
		return false, nil
	}
	s.states.Delete(sessionID)
	return true, nil
}

// SetUser implements Store.SetUser.
func (s *MemoryStore) SetUser(_ context.Context, sessionID string, user *domain.UserIdentity, delegated *domain.DelegatedSession) error {
	s.sessions.Set(sessionID, &domain.UserSession{
		SessionID:       sessionID,
		User:            user,
		Delegated:       delegated,
		AuthenticatedAt: time.Now(),
	}, ttlcache.DefaultTTL)
	return nil
}

// GetUser implements Store.GetUser.
func (s *MemoryStore) GetUser(_ context.Context, sessionID string) (*domain.UserSession, error) {
	item := s.sessions.Get(sessionID)
	if item == nil {
		return nil, ErrSessionNotFound
	}
	return item.Value(), nil
}

// Clear implements Store.Clear.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	s.states.Delete(sessionID)
	s.mu.Unlock()

	s.sessions.Delete(sessionID)
	return nil
}

// Close stops the background expiry goroutines.
func (s *MemoryStore) Close() {
	s.states.Stop()
	s.sessions.Stop()
}

var _ Store = (*MemoryStore)(nil)
