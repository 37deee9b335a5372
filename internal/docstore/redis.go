package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix   = "doc:"
	redisArrayPrefix = "arr:"
)

// insertScript writes value+version only when the key is absent.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "value", ARGV[1], "version", 1)
return 1
`)

// casScript replaces the value only when the stored version matches.
var casScript = redis.NewScript(`
local ver = redis.call("HGET", KEYS[1], "version")
if not ver then
  return -1
end
if tonumber(ver) ~= tonumber(ARGV[2]) then
  return 0
end
redis.call("HSET", KEYS[1], "value", ARGV[1], "version", tonumber(ver) + 1)
return 1
`)

// Redis is the redis-backed document store for distributed deployments where
// multiple instances share off-chain state. Versioned compare-and-swap runs
// server-side in Lua so concurrent writers cannot interleave.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a redis-backed document store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) InsertIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	inserted, err := insertScript.Run(ctx, r.client, []string{redisDocPrefix + key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	return inserted == 1, nil
}

func (r *Redis) Get(ctx context.Context, key string) (Document, error) {
	fields, err := r.client.HGetAll(ctx, redisDocPrefix+key).Result()
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	if len(fields) == 0 {
		return Document{}, ErrNotFound
	}
	var version int64
	if _, err := fmt.Sscanf(fields["version"], "%d", &version); err != nil {
		return Document{}, fmt.Errorf("parse document version: %w", err)
	}
	return Document{Key: key, Value: []byte(fields["value"]), Version: version}, nil
}

func (r *Redis) UpdateIfVersion(ctx context.Context, key string, value []byte, expectedVersion int64) (bool, error) {
	result, err := casScript.Run(ctx, r.client, []string{redisDocPrefix + key}, value, expectedVersion).Int()
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	if result == -1 {
		return false, ErrNotFound
	}
	return result == 1, nil
}

func (r *Redis) AppendToArray(ctx context.Context, key string, item []byte) (int, error) {
	length, err := r.client.RPush(ctx, redisArrayPrefix+key, item).Result()
	if err != nil {
		return 0, fmt.Errorf("append to array: %w", err)
	}
	return int(length), nil
}

func (r *Redis) ListArray(ctx context.Context, key string) ([][]byte, error) {
	items, err := r.client.LRange(ctx, redisArrayPrefix+key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list array: %w", err)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

func (r *Redis) QueryByField(ctx context.Context, field, value string) ([]Document, error) {
	// Field queries scan the document keyspace and filter client-side. The
	// collections here stay small per deployment; an index would be premature.
	var out []Document
	iter := r.client.Scan(ctx, 0, redisDocPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()[len(redisDocPrefix):]
		doc, err := r.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if fieldEquals(doc.Value, field, value) {
			out = append(out, doc)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	return out, nil
}
