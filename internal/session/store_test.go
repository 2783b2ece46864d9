package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.vitreo.hu/authgate/domain"
)

// storeBackends returns every Store implementation under test so the whole
// contract suite runs against each backend.
func storeBackends(t *testing.T) map[string]Store {
	t.Helper()

	memory := NewMemoryStore(5*time.Minute, time.Hour)
	t.Cleanup(memory.Close)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": memory,
		"redis":  NewRedisStore(client, "authgate-test", 5*time.Minute, time.Hour),
	}
}

func TestCreateState_UniquePerCall(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.CreateState(ctx, "sess-1")
			require.NoError(t, err)
			second, err := store.CreateState(ctx, "sess-2")
			require.NoError(t, err)

			assert.NotEmpty(t, first)
			assert.NotEmpty(t, second)
			assert.NotEqual(t, first, second)
		})
	}
}

func TestConsumeState_SingleUse(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			nonce, err := store.CreateState(ctx, "sess-1")
			require.NoError(t, err)

			ok, err := store.ConsumeState(ctx, "sess-1", nonce)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.ConsumeState(ctx, "sess-1", nonce)
			require.NoError(t, err)
			assert.False(t, ok, "second consumption of the same nonce must fail")
		})
	}
}

func TestConsumeState_MismatchKeepsNonce(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			nonce, err := store.CreateState(ctx, "sess-1")
			require.NoError(t, err)

			ok, err := store.ConsumeState(ctx, "sess-1", "forged-state")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = store.ConsumeState(ctx, "sess-1", nonce)
			require.NoError(t, err)
			assert.True(t, ok, "a mismatched attempt must not destroy the real nonce")
		})
	}
}

func TestConsumeState_BoundToSession(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			nonce, err := store.CreateState(ctx, "sess-1")
			require.NoError(t, err)

			ok, err := store.ConsumeState(ctx, "sess-other", nonce)
			require.NoError(t, err)
			assert.False(t, ok, "a nonce issued for one session must not validate for another")
		})
	}
}

func TestConsumeState_ConcurrentCallersOneWinner(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			nonce, err := store.CreateState(ctx, "sess-1")
			require.NoError(t, err)

			const callers = 32
			var wg sync.WaitGroup
			results := make(chan bool, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := store.ConsumeState(ctx, "sess-1", nonce)
					assert.NoError(t, err)
					results <- ok
				}()
			}
			wg.Wait()
			close(results)

			winners := 0
			for ok := range results {
				if ok {
					winners++
				}
			}
			assert.Equal(t, 1, winners, "exactly one caller may consume the nonce")
		})
	}
}

func TestSetGetClearUser(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetUser(ctx, "sess-1")
			require.ErrorIs(t, err, ErrSessionNotFound)

			user := &domain.UserIdentity{
				Username:   "alice",
				Email:      "alice@example.com",
				AuthMethod: domain.AuthMethodDelegated,
			}
			delegated := &domain.DelegatedSession{
				AccessToken:  "access-token",
				RefreshToken: "refresh-token",
			}
			require.NoError(t, store.SetUser(ctx, "sess-1", user, delegated))

			record, err := store.GetUser(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, "sess-1", record.SessionID)
			assert.Equal(t, "alice", record.User.Username)
			assert.Equal(t, domain.AuthMethodDelegated, record.User.AuthMethod)
			assert.Equal(t, "access-token", record.Delegated.AccessToken)
			assert.False(t, record.AuthenticatedAt.IsZero())

			require.NoError(t, store.Clear(ctx, "sess-1"))
			_, err = store.GetUser(ctx, "sess-1")
			require.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestClear_DropsPendingState(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			nonce, err := store.CreateState(ctx, "sess-1")
			require.NoError(t, err)

			require.NoError(t, store.Clear(ctx, "sess-1"))

			ok, err := store.ConsumeState(ctx, "sess-1", nonce)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
