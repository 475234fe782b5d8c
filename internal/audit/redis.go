package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisLedger is a PendingLedger kept in Redis so pending records survive a
// process restart. Each record is a JSON string under its key; pending keys are
// also members of a sorted set scored by occurrence time.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

var _ PendingLedger = (*RedisLedger)(nil)

// put stores ARGV[1] under KEYS[1] unless the key exists, and registers it as pending when ARGV[2] is "1".
var putScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
if ARGV[2] == '1' then
  redis.call('ZADD', KEYS[2], ARGV[3], KEYS[1])
end
return 1
`)

var confirmScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('ZREM', KEYS[2], KEYS[1])
return 1
`)

// discard deletes KEYS[1] only while it is still pending.
var discardScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('ZREM', KEYS[2], KEYS[1]) == 1 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// NewRedisLedger wraps client. Keys are namespaced under prefix; empty means "audit".
func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "audit"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) recordKey(k Key) string { return l.prefix + ":rec:" + k.String() }
func (l *RedisLedger) pendingKey() string     { return l.prefix + ":pending" }

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLedger) Append(ctx context.Context, rec Record) error {
	err := l.put(ctx, rec, false)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func (l *RedisLedger) AppendPending(ctx context.Context, rec Record) error {
	return l.put(ctx, rec, true)
}

func (l *RedisLedger) put(ctx context.Context, rec Record, pending bool) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Pending = false
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	flag := "0"
	if pending {
		flag = "1"
	}
	keys := []string{l.recordKey(rec.Key()), l.pendingKey()}
	n, err := putScript.Run(ctx, l.client, keys, data, flag, rec.OccurredAt.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("audit: redis put %s: %w", rec.Key(), err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (l *RedisLedger) Confirm(ctx context.Context, key Key) error {
	return l.resolve(ctx, confirmScript, key)
}

// Discard drops a pending record. Confirmed records are never removed.
func (l *RedisLedger) Discard(ctx context.Context, key Key) error {
	return l.resolve(ctx, discardScript, key)
}

func (l *RedisLedger) resolve(ctx context.Context, script *redis.Script, key Key) error {
	n, err := script.Run(ctx, l.client, []string{l.recordKey(key), l.pendingKey()}).Int()
	if err != nil {
		return fmt.Errorf("audit: redis resolve %s: %w", key, err)
	}
	if n < 0 {
		return ErrNotFound
	}
	return nil
}

// Pending returns pending records oldest first.
func (l *RedisLedger) Pending(ctx context.Context) ([]Record, error) {
	keys, err := l.client.ZRange(ctx, l.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: redis pending: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: redis pending: %w", err)
	}
	out := make([]Record, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// member without a record; nothing to resolve
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("audit: redis decode %s: %w", keys[i], err)
		}
		rec.Pending = true
		out = append(out, rec)
	}
	return out, nil
}

// Get loads one record by key.
func (l *RedisLedger) Get(ctx context.Context, key Key) (Record, error) {
	raw, err := l.client.Get(ctx, l.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("audit: redis get %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("audit: redis decode %s: %w", key, err)
	}
	_, err = l.client.ZScore(ctx, l.pendingKey(), l.recordKey(key)).Result()
	switch {
	case err == nil:
		rec.Pending = true
	case !errors.Is(err, redis.Nil):
		return Record{}, fmt.Errorf("audit: redis get %s: %w", key, err)
	}
	return rec, nil
}
