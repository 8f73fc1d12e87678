package csrf

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "atelier:csrf:failures:"

// RedisLimiter はRedisのソート済みセットで失敗時刻を保持するスライディングウィンドウ。
// 複数インスタンスで同じ上限を共有できる。
type RedisLimiter struct {
	client *redis.Client
	config LimiterConfig
	now    func() time.Time
}

// NewRedisLimiter はRedisLimiterを生成する。nowがnilの場合はtime.Nowを使う。
func NewRedisLimiter(client *redis.Client, config LimiterConfig, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, config: config, now: now}
}

// NewRedisClient はREDIS_URLからクライアントを生成し、timeout以内の疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Allow はウィンドウ外の記録を削除したうえで件数を上限と比較する。
func (l *RedisLimiter) Allow(ctx context.Context, key ClientKey) (bool, error) {
	k := redisKeyPrefix + key.String()
	cutoff := l.now().Add(-l.config.Window).UnixMilli()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to count csrf failures: %w", err)
	}

	return card.Val() < int64(l.config.Ceiling(key)), nil
}

// RecordFailure は現在時刻（ミリ秒）をスコアにして失敗を追加し、キーの有効期限をウィンドウに合わせる。
func (l *RedisLimiter) RecordFailure(ctx context.Context, key ClientKey) error {
	k := redisKeyPrefix + key.String()
	now := l.now().UnixMilli()

	member, err := uniqueMember(now)
	if err != nil {
		return err
	}

	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now), Member: member})
	pipe.Expire(ctx, k, l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record csrf failure: %w", err)
	}
	return nil
}

// Close はRedisクライアントを閉じる。
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// uniqueMember は同一ミリ秒の記録が重複しないようにランダムな接尾辞を付ける。
func uniqueMember(now int64) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate member suffix: %w", err)
	}
	return strconv.FormatInt(now, 10) + "-" + hex.EncodeToString(b), nil
}

// compile-time interface check
var _ AttemptLimiter = (*RedisLimiter)(nil)
