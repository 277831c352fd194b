package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/ratelimit"
)

// countingStore records calls and delegates to a MemoryStore.
type countingStore struct {
	inner *ratelimit.MemoryStore
	calls int
	err   error
}

func (s *countingStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	s.calls++
	if s.err != nil {
		return ratelimit.Decision{}, s.err
	}
	return s.inner.Allow(ctx, key, limit, window)
}

func newCountingStore() *countingStore {
	return &countingStore{inner: ratelimit.NewMemoryStore()}
}

func TestGroupAllowed(t *testing.T) {
	list := []string{"100"}
	tests := []struct {
		name  string
		mode  config.GroupMode
		group string
		want  bool
	}{
		{"off allows any group", config.GroupOff, "200", true},
		{"whitelist allows listed", config.GroupWhitelist, "100", true},
		{"whitelist blocks unlisted", config.GroupWhitelist, "200", false},
		{"blacklist blocks listed", config.GroupBlacklist, "100", false},
		{"blacklist allows unlisted", config.GroupBlacklist, "200", true},
		{"private chat under whitelist", config.GroupWhitelist, "", true},
		{"private chat under blacklist", config.GroupBlacklist, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GroupAllowed(tt.mode, list, tt.group))
		})
	}
}

func TestAuthorize_WhitelistBlocksUnlistedGroup(t *testing.T) {
	store := newCountingStore()
	gate := NewGate(store)
	opts := config.Default()
	opts.GroupControlMode = config.GroupWhitelist
	opts.GroupList = []string{"100"}

	d := gate.Authorize(context.Background(), Identity{UserID: "42", GroupID: "200"}, opts)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonGroupBlocked, d.Reason)
	assert.Zero(t, store.calls, "a blocked group must not consume a rate window slot")
}

func TestAuthorize_SixthCallRateLimited(t *testing.T) {
	gate := NewGate(newCountingStore())
	opts := config.Default()
	opts.RateLimitMaxCalls = 5
	opts.RateLimitWindowSeconds = 3600
	id := Identity{UserID: "42", GroupID: "100"}

	for i := 0; i < 5; i++ {
		require.True(t, gate.Authorize(context.Background(), id, opts).Allowed, "call %d", i+1)
	}
	d := gate.Authorize(context.Background(), id, opts)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Hour)

	// Another member of the same group shares the group window.
	d = gate.Authorize(context.Background(), Identity{UserID: "43", GroupID: "100"}, opts)
	assert.Equal(t, ReasonRateLimited, d.Reason)
}

func TestAuthorize_RateLimitDisabled(t *testing.T) {
	store := newCountingStore()
	gate := NewGate(store)
	opts := config.Default()
	opts.RateLimitEnabled = false
	opts.RateLimitMaxCalls = 0

	assert.True(t, gate.Authorize(context.Background(), Identity{UserID: "1"}, opts).Allowed)
	assert.Zero(t, store.calls)
}

func TestAuthorize_StoreErrorFailsOpen(t *testing.T) {
	store := newCountingStore()
	store.err = errors.New("connection refused")
	gate := NewGate(store)

	d := gate.Authorize(context.Background(), Identity{UserID: "1", GroupID: "9"}, config.Default())
	assert.True(t, d.Allowed)
}

func TestAuthorize_AnonymousDenied(t *testing.T) {
	store := newCountingStore()
	gate := NewGate(store)
	opts := config.Default()
	opts.RateLimitEnabled = false

	d := gate.Authorize(context.Background(), Identity{}, opts)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAnonymous, d.Reason)
	assert.Zero(t, store.calls)

	// A group alone still has a window to count against.
	assert.True(t, gate.Authorize(context.Background(), Identity{GroupID: "100"}, opts).Allowed)
}

func TestRateKey(t *testing.T) {
	assert.Equal(t, "group:100", RateKey(config.ScopeGroup, Identity{UserID: "1", GroupID: "100"}))
	assert.Equal(t, "user:1", RateKey(config.ScopeGroup, Identity{UserID: "1"}))
	assert.Equal(t, "user:1", RateKey(config.ScopeUser, Identity{UserID: "1", GroupID: "100"}))
}

func TestInflight_SingleTaskPerUser(t *testing.T) {
	f := NewInflight()

	release, _, ok := f.Acquire("u1", "task-a")
	require.True(t, ok)

	_, running, ok := f.Acquire("u1", "task-b")
	assert.False(t, ok)
	assert.Equal(t, "task-a", running)

	_, _, ok = f.Acquire("u2", "task-c")
	assert.True(t, ok, "other users are independent")

	release()
	release()
	_, busy := f.Running("u1")
	assert.False(t, busy)

	_, _, ok = f.Acquire("u1", "task-d")
	assert.True(t, ok)
}
