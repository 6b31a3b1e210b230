package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisRecord is the stored JSON form of a Record. Timestamps are unix seconds
// so the rotation script can compare them server-side.
type redisRecord struct {
	TokenID                 string `json:"tokenId"`
	UserID                  string `json:"userId"`
	CreatedAt               int64  `json:"createdAt"`
	LastUsedAt              int64  `json:"lastUsedAt"`
	AbsoluteExpiryAt        int64  `json:"absoluteExpiryAt"`
	InactivityExpirySeconds int64  `json:"inactivityExpirySeconds"`
	Revoked                 bool   `json:"revoked"`
	ReplacedByTokenID       string `json:"replacedByTokenId,omitempty"`
	DeviceInfo              string `json:"deviceInfo,omitempty"`
	IPAddress               string `json:"ipAddress,omitempty"`
}

func toRedisRecord(rec *Record) *redisRecord {
	rr := &redisRecord{
		TokenID:                 rec.TokenID,
		UserID:                  rec.UserID,
		InactivityExpirySeconds: int64(rec.InactivityExpiry / time.Second),
		Revoked:                 rec.Revoked,
		ReplacedByTokenID:       rec.ReplacedByTokenID,
		DeviceInfo:              rec.DeviceInfo,
		IPAddress:               rec.IPAddress,
	}
	if !rec.CreatedAt.IsZero() {
		rr.CreatedAt = rec.CreatedAt.Unix()
	}
	if !rec.LastUsedAt.IsZero() {
		rr.LastUsedAt = rec.LastUsedAt.Unix()
	}
	if !rec.AbsoluteExpiryAt.IsZero() {
		rr.AbsoluteExpiryAt = rec.AbsoluteExpiryAt.Unix()
	}
	return rr
}

func (rr *redisRecord) toRecord() *Record {
	rec := &Record{
		TokenID:           rr.TokenID,
		UserID:            rr.UserID,
		InactivityExpiry:  time.Duration(rr.InactivityExpirySeconds) * time.Second,
		Revoked:           rr.Revoked,
		ReplacedByTokenID: rr.ReplacedByTokenID,
		DeviceInfo:        rr.DeviceInfo,
		IPAddress:         rr.IPAddress,
	}
	if rr.CreatedAt > 0 {
		rec.CreatedAt = time.Unix(rr.CreatedAt, 0)
	}
	if rr.LastUsedAt > 0 {
		rec.LastUsedAt = time.Unix(rr.LastUsedAt, 0)
	}
	if rr.AbsoluteExpiryAt > 0 {
		rec.AbsoluteExpiryAt = time.Unix(rr.AbsoluteExpiryAt, 0)
	}
	return rec
}

// rotateScript claims a token for rotation in one atomic step: validate, mark
// revoked with the successor id, and shorten the TTL to the tombstone window.
// Exactly one of any number of concurrent callers gets the 'ok' status.
// KEYS[1] = record key; ARGV[1] = now (unix seconds), ARGV[2] = successor id,
// ARGV[3] = tombstone TTL seconds. Returns {status, recordJSON}.
var rotateScript = redis.NewScript(`
	local raw = redis.call('GET', KEYS[1])
	if not raw then
		return {'not_found', ''}
	end
	local rec = cjson.decode(raw)
	if rec.revoked then
		if rec.replacedByTokenId and rec.replacedByTokenId ~= '' then
			return {'reused', raw}
		end
		return {'revoked', raw}
	end
	local now = tonumber(ARGV[1])
	if rec.absoluteExpiryAt > 0 and now > rec.absoluteExpiryAt then
		redis.call('DEL', KEYS[1])
		return {'expired', raw}
	end
	if rec.lastUsedAt > 0 and rec.inactivityExpirySeconds > 0
		and now > rec.lastUsedAt + rec.inactivityExpirySeconds then
		redis.call('DEL', KEYS[1])
		return {'expired', raw}
	end
	rec.revoked = true
	rec.replacedByTokenId = ARGV[2]
	redis.call('SET', KEYS[1], cjson.encode(rec), 'EX', tonumber(ARGV[3]))
	return {'ok', raw}
`)

// revokeScript marks a record revoked and resets its TTL to the tombstone
// window. Idempotent; a missing or already revoked record is left alone.
// KEYS[1] = record key; ARGV[1] = tombstone TTL seconds.
var revokeScript = redis.NewScript(`
	local raw = redis.call('GET', KEYS[1])
	if not raw then
		return 0
	end
	local rec = cjson.decode(raw)
	if rec.revoked then
		return 0
	end
	rec.revoked = true
	redis.call('SET', KEYS[1], cjson.encode(rec), 'EX', tonumber(ARGV[1]))
	return 1
`)

// Redis is a Redis-backed implementation of Store. Records carry a storage
// TTL equal to their remaining validity; a per-user index set supports the
// revoke-all and session-listing operations.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis creates a Redis store with the given configuration.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Prefix == "" {
		config.Prefix = "refresh_token:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client, prefix: config.Prefix}, nil
}

// NewRedisWithClient wraps an existing client, e.g. one shared with the
// admission counter store.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "refresh_token:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(tokenID string) string {
	return r.prefix + tokenID
}

func (r *Redis) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *Redis) Save(ctx context.Context, rec *Record, ttl time.Duration) error {
	if ttl < minTTL {
		ttl = minTTL
	}

	payload, err := json.Marshal(toRedisRecord(rec))
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.key(rec.TokenID), payload, ttl)
	pipe.SAdd(ctx, r.userKey(rec.UserID), rec.TokenID)
	// The index must outlive every member; the absolute ceiling bounds them all.
	// A record without a ceiling leaves the index unbounded.
	if rec.AbsoluteExpiryAt.IsZero() {
		pipe.Persist(ctx, r.userKey(rec.UserID))
	} else {
		pipe.Expire(ctx, r.userKey(rec.UserID), rec.remainingAbsolute(time.Now())+tombstoneTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save failed: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, tokenID string) (*Record, error) {
	raw, err := r.client.Get(ctx, r.key(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeRecord([]byte(raw))
}

func (r *Redis) Rotate(ctx context.Context, tokenID, successorID string, now time.Time) (*Record, error) {
	raw, err := rotateScript.Run(ctx, r.client, []string{r.key(tokenID)},
		now.Unix(), successorID, int64(tombstoneTTL/time.Second)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis rotate failed: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, fmt.Errorf("redis rotate: unexpected reply %v", raw)
	}
	status, _ := vals[0].(string)
	payload, _ := vals[1].(string)

	switch status {
	case "not_found":
		return nil, ErrNotFound
	case "expired":
		return nil, ErrExpired
	}

	rec, err := decodeRecord([]byte(payload))
	if err != nil {
		return nil, err
	}

	switch status {
	case "ok":
		return rec, nil
	case "reused":
		return rec, ErrReused
	case "revoked":
		return rec, ErrRevoked
	default:
		return nil, fmt.Errorf("redis rotate: unknown status %q", status)
	}
}

func (r *Redis) Revoke(ctx context.Context, tokenID string) error {
	err := revokeScript.Run(ctx, r.client, []string{r.key(tokenID)},
		int64(tombstoneTTL/time.Second)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis revoke failed: %w", err)
	}
	return nil
}

func (r *Redis) RevokeAllForUser(ctx context.Context, userID string) error {
	tokenIDs, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis revoke-all failed: %w", err)
	}
	for _, tokenID := range tokenIDs {
		if err := r.Revoke(ctx, tokenID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) DeleteAllForUser(ctx context.Context, userID string) error {
	tokenIDs, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis delete-all failed: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, tokenID := range tokenIDs {
		pipe.Del(ctx, r.key(tokenID))
	}
	pipe.Del(ctx, r.userKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete-all failed: %w", err)
	}
	return nil
}

func (r *Redis) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	tokenIDs, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list failed: %w", err)
	}
	if len(tokenIDs) == 0 {
		return nil, nil
	}

	var records []*Record
	var gone []interface{}
	for _, tokenID := range tokenIDs {
		rec, err := r.Get(ctx, tokenID)
		if errors.Is(err, ErrNotFound) {
			gone = append(gone, tokenID)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	// Drop index entries whose records the store already reclaimed.
	if len(gone) > 0 {
		_ = r.client.SRem(ctx, r.userKey(userID), gone...).Err()
	}
	return records, nil
}

// Close releases resources held by the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeRecord(payload []byte) (*Record, error) {
	var rr redisRecord
	if err := json.Unmarshal(payload, &rr); err != nil {
		return nil, fmt.Errorf("unmarshal refresh record: %w", err)
	}
	return rr.toRecord(), nil
}
