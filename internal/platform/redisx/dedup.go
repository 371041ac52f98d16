package redisx

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/price-summarizer/internal/events"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

// Deduper gives at-most-once processing of an object version across
// redelivered notifications.
type Deduper interface {
	// Claim reports true when the caller owns ref and should process it.
	Claim(ctx context.Context, ref events.ObjectRef) (bool, error)
	// Release drops a claim so a retry can reprocess ref.
	Release(ctx context.Context, ref events.ObjectRef) error
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

func NewClient(ctx context.Context, opts Options) (*goredis.Client, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

type redisDeduper struct {
	log    *logger.Logger
	rdb    goredis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewDeduper(log *logger.Logger, rdb goredis.Cmdable, ttl time.Duration, prefix string) Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if prefix == "" {
		prefix = "ps:dedup:"
	}
	return &redisDeduper{
		log:    log.With("service", "RedisDeduper"),
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
	}
}

func (d *redisDeduper) Claim(ctx context.Context, ref events.ObjectRef) (bool, error) {
	if !ref.Deduplicable() {
		return true, nil
	}
	key := d.key(ref)
	ok, err := d.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	if !ok {
		d.log.Debug("duplicate notification", "key", key)
	}
	return ok, nil
}

func (d *redisDeduper) Release(ctx context.Context, ref events.ObjectRef) error {
	if !ref.Deduplicable() {
		return nil
	}
	if err := d.rdb.Del(ctx, d.key(ref)).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

func (d *redisDeduper) key(ref events.ObjectRef) string {
	return DedupKey(d.prefix, ref)
}

// DedupKey is the Redis key guarding one object version. Callers only claim
// refs that are Deduplicable.
func DedupKey(prefix string, ref events.ObjectRef) string {
	return prefix + ref.Bucket + "/" + ref.Key + "#" + ref.VersionTag()
}

type nopDeduper struct{}

// NopDeduper claims every ref. Used when Redis is not configured.
func NopDeduper() Deduper { return nopDeduper{} }

func (nopDeduper) Claim(context.Context, events.ObjectRef) (bool, error) { return true, nil }
func (nopDeduper) Release(context.Context, events.ObjectRef) error       { return nil }
