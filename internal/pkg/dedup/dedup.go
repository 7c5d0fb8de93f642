package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dealhunter:dedup:track:"

// Deduper 基于 Redis SetNX 的请求去重器。
//
// 同一用户在时间窗口内重复提交相同商品名时，第二次请求被判定为重复。
// 商品名比较不区分大小写，前后空白会被去掉。
type Deduper struct {
	rdb    *redis.Client
	window time.Duration
	logger *slog.Logger
}

// NewDeduper 创建去重器。window 为去重时间窗口。
func NewDeduper(rdb *redis.Client, logger *slog.Logger, window time.Duration) *Deduper {
	return &Deduper{
		rdb:    rdb,
		window: window,
		logger: logger,
	}
}

// IsDuplicate 判断请求是否重复。首次出现时写入标记并返回 false。
//
// Redis 不可用时放行请求，只记录警告，不向调用方报错。
func (d *Deduper) IsDuplicate(ctx context.Context, userID uint, productName string) (bool, error) {
	key := d.key(userID, productName)

	ok, err := d.rdb.SetNX(ctx, key, time.Now().Unix(), d.window).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("dedup check failed, allowing request",
				slog.Uint64("user_id", uint64(userID)),
				slog.String("error", err.Error()))
		}
		return false, nil
	}

	// SetNX 失败说明 key 已存在，即窗口内的重复请求
	return !ok, nil
}

// Delete 移除去重标记，商品删除后允许立刻重新追踪。
func (d *Deduper) Delete(ctx context.Context, userID uint, productName string) error {
	if err := d.rdb.Del(ctx, d.key(userID, productName)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func (d *Deduper) key(userID uint, productName string) string {
	normalized := strings.ToLower(strings.TrimSpace(productName))
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", userID, normalized)))
	return keyPrefix + hex.EncodeToString(sum[:16])
}
