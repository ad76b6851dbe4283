package push

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeTTL 覆盖 Kafka 重投的时间窗口。
const DedupeTTL = 24 * time.Hour

// Deduper 判断某条消息的推送是否第一次处理。
type Deduper interface {
	FirstSeen(ctx context.Context, messageID uint) (bool, error)
}

type RedisDeduper struct {
	r   *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(r *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{r: r, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, messageID uint) (bool, error) {
	return d.r.SetNX(ctx, dedupeKey(messageID), "1", d.ttl).Result()
}

func dedupeKey(messageID uint) string {
	return "push:msg:" + strconv.FormatUint(uint64(messageID), 10)
}

// MemoryDeduper 用于未配置 Redis 的单实例部署，重启后失效。
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[uint]time.Time
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, seen: make(map[uint]time.Time), now: time.Now}
}

func (d *MemoryDeduper) FirstSeen(_ context.Context, messageID uint) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, exp := range d.seen {
		if !exp.After(now) {
			delete(d.seen, id)
		}
	}
	if exp, ok := d.seen[messageID]; ok && exp.After(now) {
		return false, nil
	}
	d.seen[messageID] = now.Add(d.ttl)
	return true, nil
}
