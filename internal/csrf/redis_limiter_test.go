package csrf

import (
	"context"
	"os"
	"testing"
	"time"
)

// setupRedisLimiter はTEST_REDIS_URLのRedisに接続する。未設定または接続不可ならスキップする。
func setupRedisLimiter(t *testing.T, cfg LimiterConfig, now func() time.Time) *RedisLimiter {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL が未設定のためスキップ")
	}

	client, err := NewRedisClient(context.Background(), url, 2*time.Second)
	if err != nil {
		t.Skipf("テスト用Redisに接続できません（スキップ）: %v", err)
	}
	l := NewRedisLimiter(client, cfg, now)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	l := setupRedisLimiter(t, LimiterConfig{MaxFailures: 2, Window: 5 * time.Minute}, clock.Now)

	ctx := context.Background()
	key := ClientKey{IP: "redis-test-" + time.Now().Format("150405.000000")}
	t.Cleanup(func() { l.client.Del(context.Background(), redisKeyPrefix+key.String()) })

	if err := l.RecordFailure(ctx, key); err != nil {
		t.Fatalf("RecordFailure returned error: %v", err)
	}
	clock.Advance(time.Minute)
	if err := l.RecordFailure(ctx, key); err != nil {
		t.Fatalf("RecordFailure returned error: %v", err)
	}

	ok, err := l.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if ok {
		t.Fatal("expected limiter to be closed after 2 failures")
	}

	clock.Advance(4*time.Minute + time.Second)
	ok, err = l.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if !ok {
		t.Error("expected limiter to reopen once the oldest failure left the window")
	}
}

func TestNewRedisClient_InvalidURL_ReturnsError(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "not-a-redis-url", time.Second); err == nil {
		t.Fatal("expected error for invalid redis url, got nil")
	}
}

func TestUniqueMember_Differs(t *testing.T) {
	a, err := uniqueMember(1)
	if err != nil {
		t.Fatalf("uniqueMember returned error: %v", err)
	}
	b, _ := uniqueMember(1)
	if a == b {
		t.Errorf("expected distinct members for the same timestamp, both %q", a)
	}
}
