package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"ozonbot/internal/integrations/ozon"
)

func newOzon(t *testing.T, status int, body string) (*ozon.Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return ozon.NewClient(srv.URL, time.Second, 0), &calls
}

func TestVerify_SuccessIsValid(t *testing.T) {
	client, calls := newOzon(t, http.StatusOK, `{"result":[]}`)
	ok, msg := New(client, zap.NewNop()).Verify(context.Background(), "real-token-123", "98765")
	assert.True(t, ok)
	assert.NotEmpty(t, msg)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestVerify_ForbiddenMentionsPermissions(t *testing.T) {
	client, _ := newOzon(t, http.StatusForbidden, `{"code":7,"message":"denied"}`)
	ok, msg := New(client, zap.NewNop()).Verify(context.Background(), "real-token-123", "98765")
	assert.False(t, ok)
	assert.Contains(t, msg, "прав")
}

func TestVerify_Unauthorized(t *testing.T) {
	client, _ := newOzon(t, http.StatusUnauthorized, `{}`)
	ok, msg := New(client, zap.NewNop()).Verify(context.Background(), "real-token-123", "98765")
	assert.False(t, ok)
	assert.Contains(t, msg, "Неверный")
}

func TestVerify_ServerError(t *testing.T) {
	client, _ := newOzon(t, http.StatusBadGateway, `oops`)
	ok, msg := New(client, zap.NewNop()).Verify(context.Background(), "real-token-123", "98765")
	assert.False(t, ok)
	assert.Contains(t, msg, "502")
}

func TestVerify_PlaceholderSkipsNetwork(t *testing.T) {
	client, calls := newOzon(t, http.StatusForbidden, `{}`)
	v := New(client, zap.NewNop())
	for _, pair := range [][2]string{{"test-token-xyz", "123"}, {"real-token-123", "demo"}, {"DEMO_TOKEN_1", "1"}} {
		ok, _ := v.Verify(context.Background(), pair[0], pair[1])
		assert.True(t, ok, pair)
	}
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestVerify_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ok, msg := New(ozon.NewClient(srv.URL, 30*time.Millisecond, 0), zap.NewNop()).Verify(context.Background(), "real-token-123", "1")
	assert.False(t, ok)
	assert.Contains(t, msg, "время")
}

type panicPinger struct{}

func (panicPinger) Ping(context.Context, ozon.Auth) error { panic("boom") }

func TestVerify_NeverPanics(t *testing.T) {
	ok, msg := New(panicPinger{}, zap.NewNop()).Verify(context.Background(), "real-token-123", "1")
	assert.False(t, ok)
	assert.NotEmpty(t, msg)
}
