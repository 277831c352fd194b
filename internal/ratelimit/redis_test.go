package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "rl:"), mr
}

func TestRedisStore_SixthCallDenied(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := s.Allow(ctx, "group:100", 5, time.Hour)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !d.Allowed || d.Count != i {
			t.Fatalf("call %d: got %+v, want allowed with count %d", i, d, i)
		}
	}

	d, err := s.Allow(ctx, "group:100", 5, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("6th call within the window should be denied")
	}
	if d.Count != 5 {
		t.Errorf("denied call must not change the count, got %d", d.Count)
	}
	if d.ResetAt.IsZero() || time.Until(d.ResetAt) > time.Hour {
		t.Errorf("ResetAt = %v, want within the hour", d.ResetAt)
	}

	if got, _ := mr.Get("rl:group:100"); got != "5" {
		t.Errorf("stored count = %q, want 5", got)
	}
	if d, _ := s.Allow(ctx, "group:200", 5, time.Hour); !d.Allowed {
		t.Error("independent identity should be allowed")
	}
}

func TestRedisStore_WindowResetsAtExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Allow(ctx, "user:1", 5, time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if d, _ := s.Allow(ctx, "user:1", 5, time.Hour); d.Allowed {
		t.Fatal("limit should be reached")
	}

	mr.FastForward(time.Hour)

	d, err := s.Allow(ctx, "user:1", 5, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Errorf("after expiry got %+v, want allowed with count 1", d)
	}
}

func TestRedisStore_ZeroLimitDenies(t *testing.T) {
	s, mr := newTestRedisStore(t)

	d, err := s.Allow(context.Background(), "user:1", 0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("a zero limit must deny")
	}
	if mr.Exists("rl:user:1") {
		t.Error("a zero limit must not create a window")
	}
}

func TestRedisStore_ConcurrentAdmissionNeverExceedsLimit(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.Allow(ctx, "group:100", 5, time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 5 {
		t.Errorf("admitted %d calls, want exactly 5", got)
	}
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	if _, err := s.Allow(context.Background(), "user:1", 5, time.Hour); err == nil {
		t.Error("expected an error when redis is unreachable")
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	_ = rdb.Close()

	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisClient(context.Background(), addr, "", 0); err == nil {
		t.Error("expected a ping error for a stopped server")
	}
}
