package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.vitreo.hu/authgate/domain"
)

// consumeStateScript performs the exclusive read-compare-delete for the
// state nonce server-side, so that concurrent callbacks for the same session
// cannot both consume the nonce.
var consumeStateScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// RedisStore implements Store on Redis, for replicated gateway deployments
// where browser sessions must be visible to every instance.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	stateTTL   time.Duration
	sessionTTL time.Duration
}

// NewRedisStore creates a Redis-backed session store. The prefix namespaces
// keys when the Redis instance is shared.
func NewRedisStore(client *redis.Client, prefix string, stateTTL, sessionTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		stateTTL:   stateTTL,
		sessionTTL: sessionTTL,
	}
}

func (s *RedisStore) stateKey(sessionID string) string {
	return fmt.Sprintf("%s:state:%s", s.prefix, sessionID)
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

// CreateState implements Store.CreateState.
func (s *RedisStore) CreateState(ctx context.Context, sessionID string) (string, error) {
	nonce, err := newStateNonce()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.stateKey(sessionID), nonce, s.stateTTL).Err(); err != nil {
		return "", fmt.Errorf("store state nonce: %w", err)
	}
	return nonce, nil
}

// ConsumeState implements Store.ConsumeState.
func (s *RedisStore) ConsumeState(ctx context.Context, sessionID, state string) (bool, error) {
	res, err := consumeStateScript.Run(ctx, s.client, []string{s.stateKey(sessionID)}, state).Int()
	if err != nil {
		return false, fmt.Errorf("consume state nonce: %w", err)
	}
	return res == 1, nil
}

// SetUser implements Store.SetUser.
func (s *RedisStore) SetUser(ctx context.Context, sessionID string, user *domain.UserIdentity, delegated *domain.DelegatedSession) error {
	record := &domain.UserSession{
		SessionID:       sessionID,
		User:            user,
		Delegated:       delegated,
		AuthenticatedAt: time.Now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sessionID), payload, s.sessionTTL).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// GetUser implements Store.GetUser.
func (s *RedisStore) GetUser(ctx context.Context, sessionID string) (*domain.UserSession, error) {
	payload, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var record domain.UserSession
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &record, nil
}

// Clear implements Store.Clear.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.stateKey(sessionID), s.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
