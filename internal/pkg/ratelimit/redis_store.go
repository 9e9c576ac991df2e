package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps window records in a shared Redis instance so multiple
// processes enforce one combined limit. Records are encoded as
// "count|resetAtUnixMilli" with a key TTL matching the window, so Sweep is
// a no-op. On Redis errors the store fails open: admission is abuse
// deterrence, not an availability dependency.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '' then
  if cur then return 0 end
else
  if not cur or cur ~= ARGV[1] then return 0 end
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, keyPrefix: "ratelimit:"}
}

func (s *RedisStore) Get(key string) (Record, bool) {
	raw, err := s.client.Get(context.Background(), s.keyPrefix+key).Result()
	if err == redis.Nil {
		return Record{}, false
	}
	if err != nil {
		log.Warnf("[RateLimit] redis get failed for %s: %v", key, err)
		return Record{}, false
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return Record{}, false
	}
	return rec, true
}

func (s *RedisStore) CompareAndSwap(key string, old, new Record) bool {
	oldEnc := ""
	if !old.IsZero() {
		oldEnc = encodeRecord(old)
	}
	ttl := time.Until(new.ResetAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	ok, err := casScript.Run(
		context.Background(),
		s.client,
		[]string{s.keyPrefix + key},
		oldEnc,
		encodeRecord(new),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		log.Warnf("[RateLimit] redis cas failed for %s: %v", key, err)
		// Fail open: report success so the caller admits the request.
		return true
	}
	return ok == 1
}

// Sweep is unnecessary for Redis, key TTLs expire records server-side.
func (s *RedisStore) Sweep(time.Time) int {
	return 0
}

func encodeRecord(r Record) string {
	return fmt.Sprintf("%d|%d", r.Count, r.ResetAt.UnixMilli())
}

func decodeRecord(raw string) (Record, error) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return Record{}, fmt.Errorf("malformed rate limit record: %q", raw)
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return Record{}, err
	}
	resetMs, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Record{}, err
	}
	return Record{Count: count, ResetAt: time.UnixMilli(resetMs)}, nil
}
