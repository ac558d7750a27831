package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/shortener"
)

// Each link is a hash under "link:{code}". Creation order is kept in a sorted
// set scored by a monotonically increasing id, which Redis numbers represent
// exactly. Timestamps are stored as unix microseconds for the same reason.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local id = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'id', id, 'code', ARGV[1], 'url', ARGV[2], 'clicks', 0, 'created_at', ARGV[3])
redis.call('ZADD', KEYS[3], id, ARGV[1])
return id
`)

var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'clicks', ARGV[1])
local last = redis.call('HGET', KEYS[1], 'last_clicked')
if not last or tonumber(last) < tonumber(ARGV[2]) then
	redis.call('HSET', KEYS[1], 'last_clicked', ARGV[2])
end
return 1
`)

// RedisStore is a Redis implementation of shortener.Repository.
type RedisStore struct {
	client   *redis.Client
	prefix   string // "link:" for code->hash
	seqKey   string // "links:seq" id counter
	orderKey string // "links:by_id" sorted set of codes
}

// NewRedisStore creates a new Redis-backed link store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   "link:",
		seqKey:   "links:seq",
		orderKey: "links:by_id",
	}
}

func (r *RedisStore) key(code shortener.Code) string {
	return r.prefix + string(code)
}

func (r *RedisStore) Create(ctx context.Context, code shortener.Code, destination string) (*shortener.Link, error) {
	if err := shortener.ValidateNew(code, destination); err != nil {
		return nil, err
	}

	createdAt := time.Now().UTC().Truncate(time.Microsecond)

	id, err := createScript.Run(ctx, r.client,
		[]string{r.key(code), r.seqKey, r.orderKey},
		string(code), destination, createdAt.UnixMicro(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	if id == 0 {
		return nil, shortener.ErrConflict
	}

	return &shortener.Link{
		ID:          id,
		Code:        code,
		Destination: destination,
		CreatedAt:   createdAt,
	}, nil
}

func (r *RedisStore) GetByCode(ctx context.Context, code shortener.Code) (*shortener.Link, error) {
	fields, err := r.client.HGetAll(ctx, r.key(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}

	if len(fields) == 0 {
		return nil, shortener.ErrNotFound
	}

	return parseLinkHash(fields)
}

func (r *RedisStore) List(ctx context.Context) ([]*shortener.Link, error) {
	codes, err := r.client.ZRevRange(ctx, r.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	if len(codes) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(codes))

	for i, code := range codes {
		cmds[i] = pipe.HGetAll(ctx, r.prefix+code)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	links := make([]*shortener.Link, 0, len(codes))

	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// deleted between ZREVRANGE and HGETALL
			continue
		}

		link, err := parseLinkHash(fields)
		if err != nil {
			return nil, err
		}

		links = append(links, link)
	}

	return links, nil
}

func (r *RedisStore) Delete(ctx context.Context, code shortener.Code) error {
	var del *redis.IntCmd

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(code))
		pipe.ZRem(ctx, r.orderKey, string(code))

		return nil
	})
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}

	if del.Val() == 0 {
		return shortener.ErrNotFound
	}

	return nil
}

func (r *RedisStore) IncrementClicks(
	ctx context.Context, code shortener.Code, count int64, lastAccessedAt time.Time,
) error {
	if count < 0 {
		return fmt.Errorf("%w: negative click delta %d", shortener.ErrInvalidArgument, count)
	}

	ok, err := incrementScript.Run(ctx, r.client,
		[]string{r.key(code)},
		count, lastAccessedAt.UnixMicro(),
	).Int64()
	if err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}

	if ok == 0 {
		return shortener.ErrNotFound
	}

	return nil
}

// Ping checks Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var errCorruptLink = errors.New("corrupt link record")

func parseLinkHash(fields map[string]string) (*shortener.Link, error) {
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %w", errCorruptLink, err)
	}

	clicks, err := strconv.ParseInt(fields["clicks"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: clicks: %w", errCorruptLink, err)
	}

	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %w", errCorruptLink, err)
	}

	link := &shortener.Link{
		ID:          id,
		Code:        shortener.Code(fields["code"]),
		Destination: fields["url"],
		ClickCount:  clicks,
		CreatedAt:   time.UnixMicro(created).UTC(),
	}

	if raw, ok := fields["last_clicked"]; ok {
		micros, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: last_clicked: %w", errCorruptLink, err)
		}

		ts := time.UnixMicro(micros).UTC()
		link.LastAccessedAt = &ts
	}

	return link, nil
}

// Compile-time check.
var _ shortener.Repository = (*RedisStore)(nil)
