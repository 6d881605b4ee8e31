package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mapleads:dedup:job:"

// Deduplicator 在时间窗口内拒绝重复提交。
//
// 以提交内容的摘要为键执行 SETNX，键在 ttl 后过期。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeduplicator 创建去重器，ttl<=0 时取 10 分钟。
func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduplicator{rdb: rdb, ttl: ttl}
}

// Fingerprint 将提交的各字段归一化后拼接为去重指纹。
func Fingerprint(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, p := range parts {
		normalized = append(normalized, strings.ToLower(strings.Join(strings.Fields(p), " ")))
	}
	return strings.Join(normalized, "|")
}

// IsDuplicate 首次出现返回 false 并占位，窗口内再次出现返回 true。
func (d *Deduplicator) IsDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	if d == nil || d.rdb == nil || fingerprint == "" {
		return false, nil
	}
	ok, err := d.rdb.SetNX(ctx, keyPrefix+hash(fingerprint), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Release 删除占位，用于提交失败后允许立即重试。
func (d *Deduplicator) Release(ctx context.Context, fingerprint string) error {
	if d == nil || d.rdb == nil || fingerprint == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, keyPrefix+hash(fingerprint)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
