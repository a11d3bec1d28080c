package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/models"
)

const keyPrefix = "refresh:"

// Revoked records are kept around past their expiry for reuse detection
// and audit before redis drops them.
const defaultRetention = 30 * 24 * time.Hour

// RefreshTokenRepo is a redis-backed implementation of
// repository.RefreshTokenRepo. Each record is a redis hash keyed by the
// bearer hash; rotation atomicity comes from a Lua script, which redis
// executes without interleaving.
type RefreshTokenRepo struct {
	rdb       redis.UniversalClient
	retention time.Duration
}

func NewRefreshTokenRepo(rdb redis.UniversalClient) *RefreshTokenRepo {
	return &RefreshTokenRepo{rdb: rdb, retention: defaultRetention}
}

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	key := keyPrefix + token.TokenHash

	fields := map[string]any{
		"id":         token.ID.String(),
		"user_id":    token.UserID.String(),
		"created_at": token.CreatedAt.UnixMilli(),
		"expires_at": token.ExpiresAt.UnixMilli(),
	}
	if token.RevokedAt != nil {
		fields["revoked_at"] = token.RevokedAt.UnixMilli()
	}
	if token.ReplacedByHash != "" {
		fields["replaced_by"] = token.ReplacedByHash
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.PExpireAt(ctx, key, token.ExpiresAt.Add(r.retention))
	if _, err := pipe.Exec(ctx); err != nil {
		return token, fmt.Errorf("redis error: %w", err)
	}

	return token, nil
}

func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	fields, err := r.rdb.HGetAll(ctx, keyPrefix+hash).Result()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}
	if len(fields) == 0 {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	return fieldsToToken(hash, fields)
}

// revokeAndLink revokes KEYS[1] and creates KEYS[2] in one script.
// Returns "reused" without writing anything when the old record is gone
// or already revoked, so exactly one concurrent rotation can win.
var revokeAndLinkScript = redis.NewScript(`
local old = KEYS[1]
local new = KEYS[2]
if redis.call('EXISTS', old) == 0 then
  return 'reused'
end
if redis.call('HGET', old, 'revoked_at') then
  return 'reused'
end
redis.call('HSET', old, 'revoked_at', ARGV[1], 'replaced_by', ARGV[2])
redis.call('HSET', new, 'id', ARGV[3], 'user_id', ARGV[4], 'created_at', ARGV[5], 'expires_at', ARGV[6])
redis.call('PEXPIREAT', new, ARGV[7])
return 'ok'
`)

func (r *RefreshTokenRepo) RevokeAndLink(ctx context.Context, oldHash string, next models.RefreshToken) (models.RefreshToken, error) {
	now := time.Now()

	res, err := revokeAndLinkScript.Run(ctx, r.rdb,
		[]string{keyPrefix + oldHash, keyPrefix + next.TokenHash},
		now.UnixMilli(),
		next.TokenHash,
		next.ID.String(),
		next.UserID.String(),
		next.CreatedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		next.ExpiresAt.Add(r.retention).UnixMilli(),
	).Result()
	if err != nil {
		return next, fmt.Errorf("redis error: %w", err)
	}

	if res != "ok" {
		return next, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenReused)
	}

	return next, nil
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, hash string) error {
	key := keyPrefix + hash

	exists, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	// HSETNX keeps the original revocation time on repeated revokes
	if err := r.rdb.HSetNX(ctx, key, "revoked_at", time.Now().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	return nil
}

// RevokeChain walks replaced-by links revoking every record it finds.
// Each step is idempotent, so a concurrent rotation appending to the
// chain at worst leaves its own new record, which the next logout or
// reuse detection picks up.
func (r *RefreshTokenRepo) RevokeChain(ctx context.Context, hash string) error {
	if err := r.Revoke(ctx, hash); err != nil {
		return err
	}

	cur := hash
	for range 1000 { // chain length is bounded in practice, guard anyway
		nextHash, err := r.rdb.HGet(ctx, keyPrefix+cur, "replaced_by").Result()
		if errors.Is(err, redis.Nil) || nextHash == "" {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis error: %w", err)
		}

		if err := r.rdb.HSetNX(ctx, keyPrefix+nextHash, "revoked_at", time.Now().UnixMilli()).Err(); err != nil {
			return fmt.Errorf("redis error: %w", err)
		}
		cur = nextHash
	}

	return nil
}

func fieldsToToken(hash string, fields map[string]string) (models.RefreshToken, error) {
	token := models.RefreshToken{
		TokenHash:      hash,
		ReplacedByHash: fields["replaced_by"],
	}

	var err error
	if token.ID, err = uuid.Parse(fields["id"]); err != nil {
		return token, fmt.Errorf("corrupt refresh record %q: %w", hash, err)
	}
	if token.UserID, err = uuid.Parse(fields["user_id"]); err != nil {
		return token, fmt.Errorf("corrupt refresh record %q: %w", hash, err)
	}

	parseMilli := func(name string) (time.Time, error) {
		ms, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("corrupt refresh record %q field %q: %w", hash, name, err)
		}
		return time.UnixMilli(ms), nil
	}

	if token.CreatedAt, err = parseMilli("created_at"); err != nil {
		return token, err
	}
	if token.ExpiresAt, err = parseMilli("expires_at"); err != nil {
		return token, err
	}

	if _, ok := fields["revoked_at"]; ok {
		revokedAt, err := parseMilli("revoked_at")
		if err != nil {
			return token, err
		}
		token.RevokedAt = &revokedAt
	}

	return token, nil
}
