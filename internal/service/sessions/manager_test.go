package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"ozonbot/internal/security/secretbox"
	"ozonbot/internal/service/credentials"
	"ozonbot/internal/store/memory"
)

type fixture struct {
	manager *Manager
	store   *memory.Store
	creds   *credentials.Service
}

func newManager(t *testing.T, ttl time.Duration) fixture {
	t.Helper()
	key, err := secretbox.GenerateKey()
	require.NoError(t, err)
	box, err := secretbox.New(key)
	require.NoError(t, err)
	st := memory.NewStore()
	creds := credentials.NewService(st, box, zap.NewNop())
	return fixture{manager: NewManager(st, creds, box, ttl), store: st, creds: creds}
}

func TestIssueResolveRevoke(t *testing.T) {
	f := newManager(t, time.Hour)
	m, st := f.manager, f.store
	ctx := context.Background()
	tg := int64(77)
	require.NoError(t, f.creds.Save(ctx, tg, "seller", "token-abcdefgh", "4242"))

	key, session, err := m.Issue(ctx, "token-abcdefgh", "4242", &tg)
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NotEqual(t, key, session.KeyHash)

	_, err = st.GetSession(ctx, key)
	assert.Error(t, err, "raw key must not be a lookup key")

	cred, _, err := m.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "token-abcdefgh", cred.APIToken)
	assert.Equal(t, "4242", cred.ClientID)
	assert.Equal(t, tg, cred.TelegramID)

	require.NoError(t, m.Revoke(ctx, key))
	_, _, err = m.Resolve(ctx, key)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.ErrorIs(t, m.Revoke(ctx, key), ErrUnknownKey)
}

func TestBoundSessionFollowsStoredCredential(t *testing.T) {
	f := newManager(t, time.Hour)
	ctx := context.Background()
	tg := int64(42)
	require.NoError(t, f.creds.Save(ctx, tg, "", "token-old-12345", "1111"))

	key, _, err := f.manager.Issue(ctx, "token-old-12345", "1111", &tg)
	require.NoError(t, err)

	require.NoError(t, f.creds.Save(ctx, tg, "", "token-new-12345", "2222"))
	cred, _, err := f.manager.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "token-new-12345", cred.APIToken)
	assert.Equal(t, "2222", cred.ClientID)

	require.NoError(t, f.creds.Delete(ctx, tg))
	_, _, err = f.manager.Resolve(ctx, key)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.ErrorIs(t, f.manager.Revoke(ctx, key), ErrUnknownKey, "stale session is dropped")
}

func TestUnboundSessionKeepsItsOwnPair(t *testing.T) {
	f := newManager(t, time.Hour)
	ctx := context.Background()
	key, _, err := f.manager.Issue(ctx, "token-frontend1", "3333", nil)
	require.NoError(t, err)

	cred, session, err := f.manager.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "token-frontend1", cred.APIToken)
	assert.Nil(t, session.TelegramID)
}

func TestExpiredKeyIsUnknown(t *testing.T) {
	m := newManager(t, -time.Second).manager
	ctx := context.Background()
	key, _, err := m.Issue(ctx, "token-abcdefgh", "1", nil)
	require.NoError(t, err)

	_, _, err = m.Resolve(ctx, key)
	assert.ErrorIs(t, err, ErrUnknownKey)

	n, err := m.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestResolveEmptyKey(t *testing.T) {
	m := newManager(t, time.Hour).manager
	_, _, err := m.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnknownKey)
}
