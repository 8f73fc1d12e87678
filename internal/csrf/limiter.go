package csrf

import (
	"context"
	"sync"
	"time"
)

// ClientKey はレート制限の集計単位。
// 同じIPでもセッションCookieの有無で別々に数える。
type ClientKey struct {
	IP            string
	Authenticated bool
}

// String はストアのキーとして使う文字列表現を返す。
func (k ClientKey) String() string {
	if k.Authenticated {
		return k.IP + "|auth"
	}
	return k.IP + "|anon"
}

// AttemptLimiter はCSRF検証失敗の回数をクライアントごとに数える。
// 実装はプロセス内メモリとRedisの2種類。
type AttemptLimiter interface {
	// Allow はkeyがまだ上限に達していなければtrueを返す。
	Allow(ctx context.Context, key ClientKey) (bool, error)
	// RecordFailure は検証失敗を1件記録する。
	RecordFailure(ctx context.Context, key ClientKey) error
	// Close はバックグラウンド処理や接続を解放する。
	Close() error
}

// LimiterConfig はスライディングウィンドウの設定。
type LimiterConfig struct {
	MaxFailures int           // 未認証クライアントの上限
	Window      time.Duration // 集計期間
}

// Ceiling はkeyに適用する上限を返す。認証済みクライアントは2倍。
func (c LimiterConfig) Ceiling(key ClientKey) int {
	if key.Authenticated {
		return c.MaxFailures * 2
	}
	return c.MaxFailures
}

// MemoryLimiter はプロセス内で失敗時刻のログを保持するスライディングウィンドウ。
// 再起動でリセットされ、複数インスタンス間では共有されない。
type MemoryLimiter struct {
	config LimiterConfig
	now    func() time.Time

	mu       sync.Mutex
	failures map[string][]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter はMemoryLimiterを生成し、期限切れエントリの掃除を開始する。
// nowがnilの場合はtime.Nowを使う。
func NewMemoryLimiter(config LimiterConfig, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	l := &MemoryLimiter{
		config:   config,
		now:      now,
		failures: make(map[string][]time.Time),
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow はウィンドウ内の失敗回数が上限未満ならtrueを返す。
func (l *MemoryLimiter) Allow(_ context.Context, key ClientKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(key.String(), l.now())
	return len(recent) < l.config.Ceiling(key), nil
}

// RecordFailure は現在時刻で失敗を記録する。
func (l *MemoryLimiter) RecordFailure(_ context.Context, key ClientKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key.String()
	l.failures[k] = append(l.prune(k, now), now)
	return nil
}

// Close は掃除用のゴルーチンを停止する。複数回呼んでもよい。
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}

// Len は保持しているキーの数を返す。テストおよびメトリクス用。
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}

// prune はウィンドウ外の記録を捨てた結果を返す。呼び出し側でロックを取ること。
func (l *MemoryLimiter) prune(key string, now time.Time) []time.Time {
	entries := l.failures[key]
	cutoff := now.Add(-l.config.Window)

	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	if i == len(entries) {
		delete(l.failures, key)
		return nil
	}
	if i > 0 {
		entries = append([]time.Time(nil), entries[i:]...)
		l.failures[key] = entries
	}
	return entries
}

func (l *MemoryLimiter) cleanupLoop() {
	interval := l.config.Window
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup はウィンドウ内に記録が残っていないキーを削除する。
func (l *MemoryLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.failures {
		l.prune(key, now)
	}
}

// compile-time interface check
var _ AttemptLimiter = (*MemoryLimiter)(nil)
