// Package session persists session records in Redis and is the sole
// authority on whether a session is live. Refresh rotation and revocation
// run as Lua scripts so each is a single atomic step on the server; two
// racing refreshes of the same token can never both win.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Errors returned by Store operations. Callers match with errors.Is.
var (
	ErrNotFound = errors.New("session not found")
	ErrRevoked  = errors.New("session revoked")
	ErrExpired  = errors.New("session expired")
	// ErrRefreshIDMismatch means the presented refresh token is not the
	// current one for its session. The store has already revoked the
	// session by the time this is returned.
	ErrRefreshIDMismatch = errors.New("refresh token id mismatch")
	ErrUnavailable       = errors.New("session storage unavailable")
)

const (
	fieldUserID    = "uid"
	fieldRefreshID = "rid"
	fieldCreatedAt = "created"
	fieldLastSeen  = "seen"
	fieldExpiresAt = "exp"
	fieldRevoked   = "revoked"
)

// Rotate script status codes.
const (
	rotateNotFound = 0
	rotateRevoked  = 1
	rotateExpired  = 2
	rotateMismatch = 3
	rotateOK       = 4
)

// rotateScript performs the single-use refresh swap. KEYS[1] is the session
// hash. ARGV: expected refresh id, replacement refresh id, now (unix secs).
// A mismatch is treated as evidence of replay and revokes the session
// before reporting. Returns {status, uid} or {status, uid, exp}; uid rides
// along on every revoking branch so the caller can prune the expiry index
// and the owner's session set.
var rotateScript = redis.NewScript(`
local k = KEYS[1]
if redis.call("EXISTS", k) == 0 then
  return {0, ""}
end
local uid = redis.call("HGET", k, "uid")
if redis.call("HGET", k, "revoked") == "1" then
  return {1, uid}
end
local now = tonumber(ARGV[3])
local exp = tonumber(redis.call("HGET", k, "exp"))
if exp <= now then
  redis.call("HSET", k, "revoked", "1")
  return {2, uid}
end
local rid = redis.call("HGET", k, "rid")
if rid ~= ARGV[1] then
  redis.call("HSET", k, "revoked", "1")
  return {3, uid}
end
redis.call("HSET", k, "rid", ARGV[2], "seen", ARGV[3])
return {4, uid, tostring(exp)}
`)

// revokeScript flips the revoked flag. Returns {transitioned, uid};
// transitioned is 1 only when this call made the live-to-revoked move, so
// callers can keep revocation metrics exact under races. Index cleanup
// happens caller-side, keyed on the returned uid, because the per-user set
// key cannot be declared in KEYS before the owner is known.
var revokeScript = redis.NewScript(`
local k = KEYS[1]
if redis.call("EXISTS", k) == 0 then
  return {0, ""}
end
local uid = redis.call("HGET", k, "uid")
if redis.call("HGET", k, "revoked") == "1" then
  return {0, uid}
end
redis.call("HSET", k, "revoked", "1")
return {1, uid}
`)

var touchScript = redis.NewScript(`
local k = KEYS[1]
if redis.call("EXISTS", k) == 0 then
  return 0
end
if redis.call("HGET", k, "revoked") == "1" then
  return 0
end
redis.call("HSET", k, "seen", ARGV[1])
return 1
`)

// Store keeps sessions in Redis hashes keyed by session id, with a ZSET
// expiry index for the sweeper and a per-user SET for bulk revocation.
type Store struct {
	rdb      redis.UniversalClient
	prefix   string
	lifetime time.Duration
	timeout  time.Duration
}

// Config configures a Store.
type Config struct {
	// Prefix namespaces every key this store writes.
	Prefix string
	// Lifetime is the absolute session lifetime from creation.
	Lifetime time.Duration
	// Timeout bounds every Redis round trip.
	Timeout time.Duration
}

// NewStore validates cfg and returns a Store.
func NewStore(rdb redis.UniversalClient, cfg Config) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("session: redis client is required")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("session: key prefix is required")
	}
	if cfg.Lifetime <= 0 {
		return nil, errors.New("session: lifetime must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	return &Store{
		rdb:      rdb,
		prefix:   cfg.Prefix,
		lifetime: cfg.Lifetime,
		timeout:  cfg.Timeout,
	}, nil
}

func (s *Store) sessionKey(sid string) string { return s.prefix + ":s:" + sid }
func (s *Store) expiryKey() string            { return s.prefix + ":exp" }
func (s *Store) userKey(uid string) string    { return s.prefix + ":u:" + uid }

// dropIndexEntries removes sessionID from the expiry index and, when the
// owner is known, from the owner's session set. Runs after every revocation,
// including ones that transitioned earlier, so dead members never pin the
// sweeper's scan window.
func (s *Store) dropIndexEntries(ctx context.Context, sessionID, userID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.expiryKey(), sessionID)
		if userID != "" {
			pipe.SRem(ctx, s.userKey(userID), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Create persists a new session for userID with refreshID as the current
// refresh lineage head. The record, the expiry index entry and the user set
// entry are written in one transaction.
func (s *Store) Create(ctx context.Context, sessionID, userID, refreshID string) (*Session, error) {
	if sessionID == "" || userID == "" || refreshID == "" {
		return nil, errors.New("session: sessionID, userID and refreshID are required")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	expiresAt := now.Add(s.lifetime)

	key := s.sessionKey(sessionID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUserID, userID,
			fieldRefreshID, refreshID,
			fieldCreatedAt, now.Unix(),
			fieldLastSeen, now.Unix(),
			fieldExpiresAt, expiresAt.Unix(),
			fieldRevoked, "0",
		)
		// Keep the hash a little past expiry so post-expiry presentations
		// still observe a revoked record instead of a missing one.
		pipe.Expire(ctx, key, s.lifetime+24*time.Hour)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(expiresAt.Unix()), Member: sessionID})
		pipe.SAdd(ctx, s.userKey(userID), sessionID)
		pipe.Expire(ctx, s.userKey(userID), s.lifetime+24*time.Hour)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Session{
		SessionID:      sessionID,
		UserID:         userID,
		RefreshTokenID: refreshID,
		CreatedAt:      now,
		LastSeenAt:     now,
		ExpiresAt:      expiresAt,
		Revoked:        false,
	}, nil
}

// Rotate atomically swaps the current refresh id from expectedID to newID.
// Exactly one concurrent caller presenting expectedID succeeds; every other
// caller gets ErrRefreshIDMismatch and the session is revoked, because a
// second presentation of a consumed token means either theft or a client
// bug, and revoking is the safe answer to both.
func (s *Store) Rotate(ctx context.Context, sessionID, expectedID, newID string) (*Session, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	res, err := rotateScript.Run(ctx, s.rdb,
		[]string{s.sessionKey(sessionID)},
		expectedID, newID, now.Unix(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("%w: malformed rotate reply", ErrUnavailable)
	}

	status, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: malformed rotate reply", ErrUnavailable)
	}
	uid, _ := res[1].(string)

	switch status {
	case rotateNotFound:
		return nil, ErrNotFound
	case rotateRevoked, rotateExpired, rotateMismatch:
		// The session is revoked either way now, so its index entries are
		// dead weight. A failed prune is repaired by the next sweep, which
		// revokes through the same path.
		_ = s.dropIndexEntries(ctx, sessionID, uid)
		switch status {
		case rotateRevoked:
			return nil, ErrRevoked
		case rotateExpired:
			return nil, ErrExpired
		default:
			return nil, ErrRefreshIDMismatch
		}
	case rotateOK:
		if len(res) != 3 {
			return nil, fmt.Errorf("%w: malformed rotate reply", ErrUnavailable)
		}
		expRaw, _ := res[2].(string)
		exp, convErr := strconv.ParseInt(expRaw, 10, 64)
		if uid == "" || convErr != nil {
			return nil, fmt.Errorf("%w: malformed rotate reply", ErrUnavailable)
		}
		return &Session{
			SessionID:      sessionID,
			UserID:         uid,
			RefreshTokenID: newID,
			LastSeenAt:     now,
			ExpiresAt:      time.Unix(exp, 0).UTC(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %d", ErrUnavailable, status)
	}
}

// Revoke marks the session revoked. It is idempotent; the returned flag is
// true only when this call made the live-to-revoked transition. Index
// entries are pruned on every call, even when the transition happened
// earlier, so repeat revocations still make the expiry index shrink.
func (s *Store) Revoke(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := revokeScript.Run(ctx, s.rdb, []string{s.sessionKey(sessionID)}).Slice()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("%w: malformed revoke reply", ErrUnavailable)
	}
	transitioned, ok := res[0].(int64)
	if !ok {
		return false, fmt.Errorf("%w: malformed revoke reply", ErrUnavailable)
	}
	uid, _ := res[1].(string)

	if err := s.dropIndexEntries(ctx, sessionID, uid); err != nil {
		return false, err
	}

	return transitioned == 1, nil
}

// Touch updates the session's last-seen timestamp. A no-op for unknown or
// revoked sessions.
func (s *Store) Touch(ctx context.Context, sessionID string, at time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := touchScript.Run(ctx, s.rdb,
		[]string{s.sessionKey(sessionID)},
		at.UTC().Unix(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads the session record, revoked or not.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	fields, err := s.rdb.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return sessionFromFields(sessionID, fields)
}

// IsActive reports whether the session exists, is unrevoked and is within
// its absolute lifetime. This is the revocation authority consulted on
// every authorization check.
func (s *Store) IsActive(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	return sess.Active(time.Now().UTC()), nil
}

// RevokeAllForUser revokes every session owned by userID and returns how
// many transitioned.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	listCtx, cancel := s.opContext(ctx)
	members, err := s.rdb.SMembers(listCtx, s.userKey(userID)).Result()
	cancel()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	revoked := 0
	for _, sid := range members {
		transitioned, err := s.Revoke(ctx, sid)
		if err != nil {
			return revoked, err
		}
		if transitioned {
			revoked++
		}
	}

	return revoked, nil
}

// SweepExpired revokes up to limit sessions whose absolute expiry is at or
// before now, and returns how many it revoked. Safe to run from multiple
// processes; each session transitions at most once.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 128
	}

	listCtx, cancel := s.opContext(ctx)
	expired, err := s.rdb.ZRangeByScore(listCtx, s.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	cancel()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	swept := 0
	for _, sid := range expired {
		transitioned, err := s.Revoke(ctx, sid)
		if err != nil {
			return swept, err
		}
		if transitioned {
			swept++
		}
	}

	return swept, nil
}

func sessionFromFields(sessionID string, fields map[string]string) (*Session, error) {
	created, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt session record", ErrUnavailable)
	}
	seen, err := strconv.ParseInt(fields[fieldLastSeen], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt session record", ErrUnavailable)
	}
	exp, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt session record", ErrUnavailable)
	}

	return &Session{
		SessionID:      sessionID,
		UserID:         fields[fieldUserID],
		RefreshTokenID: fields[fieldRefreshID],
		CreatedAt:      time.Unix(created, 0).UTC(),
		LastSeenAt:     time.Unix(seen, 0).UTC(),
		ExpiresAt:      time.Unix(exp, 0).UTC(),
		Revoked:        fields[fieldRevoked] == "1",
	}, nil
}
