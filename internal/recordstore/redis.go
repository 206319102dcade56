package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisVersionField = "__version"
	redisUpdatedField = "__updated_at"

	errReplyNotFound = "RECORD_NOT_FOUND"
	errReplyExists   = "RECORD_EXISTS"
	errReplyConflict = "VERSION_CONFLICT"
)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('RECORD_EXISTS')
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return redis.call('HGETALL', KEYS[1])
`)

// ARGV[1] expected version, ARGV[2] timestamp, then field/value pairs.
var updateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], '__version')
if not current then
  return redis.error_reply('RECORD_NOT_FOUND')
end
if tonumber(current) ~= tonumber(ARGV[1]) then
  return redis.error_reply('VERSION_CONFLICT')
end
redis.call('HSET', KEYS[1], '__version', tonumber(current) + 1, '__updated_at', ARGV[2])
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return redis.call('HGETALL', KEYS[1])
`)

// RedisBackend stores each record as a hash of JSON-encoded field values plus
// a __version field that the Lua scripts compare and bump atomically.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisBackend(client redis.UniversalClient, keyPrefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: keyPrefix, now: time.Now}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (*Record, error) {
	values, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return nil, wrap("get", key, err)
	}
	if len(values) == 0 {
		return nil, newError(CodeNotFound, "get", key, nil)
	}
	return decodeHash(key, values)
}

func (r *RedisBackend) Create(ctx context.Context, key string, fields Fields) (*Record, error) {
	args, err := encodeFields(fields)
	if err != nil {
		return nil, newError(CodeValidation, "create", key, err)
	}
	args = append([]any{redisVersionField, 1, redisUpdatedField, r.timestamp()}, args...)

	flat, err := createScript.Run(ctx, r.client, []string{r.prefix + key}, args...).StringSlice()
	if err != nil {
		return nil, scriptError("create", key, err)
	}
	return decodeHash(key, pairs(flat))
}

func (r *RedisBackend) UpdateIfVersion(ctx context.Context, key string, expectedVersion int64, updates Fields) (*Record, error) {
	args, err := encodeFields(updates)
	if err != nil {
		return nil, newError(CodeValidation, "update", key, err)
	}
	args = append([]any{expectedVersion, r.timestamp()}, args...)

	flat, err := updateScript.Run(ctx, r.client, []string{r.prefix + key}, args...).StringSlice()
	if err != nil {
		return nil, scriptError("update", key, err)
	}
	return decodeHash(key, pairs(flat))
}

func (r *RedisBackend) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func scriptError(op, key string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, errReplyNotFound):
		return newError(CodeNotFound, op, key, nil)
	case strings.Contains(msg, errReplyExists):
		return newError(CodeAlreadyExists, op, key, nil)
	case strings.Contains(msg, errReplyConflict):
		return newError(CodeConditionFailed, op, key, nil)
	}
	return wrap(op, key, err)
}

func encodeFields(fields Fields) ([]any, error) {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		if strings.HasPrefix(k, "__") {
			return nil, fmt.Errorf("field %q uses a reserved prefix", k)
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		args = append(args, k, string(encoded))
	}
	return args, nil
}

func pairs(flat []string) map[string]string {
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out
}

func decodeHash(key string, values map[string]string) (*Record, error) {
	rec := &Record{Key: key, Fields: Fields{}}
	for k, v := range values {
		switch k {
		case redisVersionField:
			version, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, newError(CodeUnknown, "decode", key, fmt.Errorf("bad version %q: %w", v, err))
			}
			rec.Version = version
		case redisUpdatedField:
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				rec.UpdatedAt = ts
			}
		default:
			var decoded any
			if err := json.Unmarshal([]byte(v), &decoded); err != nil {
				decoded = v
			}
			rec.Fields[k] = decoded
		}
	}
	return rec, nil
}

var _ Backend = (*RedisBackend)(nil)
