package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")

	// ErrSessionNotFound is returned when the addressed session does
	// not exist (never issued, already revoked, or evicted).
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session exists but its
	// absolute lifetime has elapsed.
	ErrSessionExpired = errors.New("session expired")

	// ErrRefreshMismatch is returned when the presented refresh secret
	// does not match the stored hash for a live session. The session is
	// destroyed as a side effect; callers treat this as token reuse.
	ErrRefreshMismatch = errors.New("refresh hash mismatch")

	// ErrSessionCorrupt is returned when a stored session record cannot
	// be decoded.
	ErrSessionCorrupt = errors.New("session record corrupt")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// Session is one refresh-token session: an account's presence on one
// device. Only the SHA-256 of the refresh secret is stored.
type Session struct {
	ID          string
	AccountID   string
	DeviceID    string
	RefreshHash [32]byte
	CreatedAt   int64
	ExpiresAt   int64
	IP          string
	UserAgent   string
}

// RotateResult reports the outcome of a refresh rotation. AccountID and
// DeviceID are populated on both success and mismatch so callers can
// attribute a reuse event to the right account.
type RotateResult struct {
	Session   *Session
	AccountID string
	DeviceID  string
}

// rotateScript compares the stored refresh hash against the presented
// one and swaps in the next hash in a single atomic step. A mismatch on
// a live session destroys the session so neither the legitimate holder
// nor the thief can continue the chain.
const rotateScript = `
local acct_prefix = ARGV[1]
local dev_prefix = ARGV[2]
local session_id = ARGV[3]
local provided = ARGV[4]
local next_hash = ARGV[5]
local now_unix = tonumber(ARGV[6])

local data = redis.call("HMGET", KEYS[1], "acct", "dev", "refresh", "expires")
local acct = data[1]
if not acct then
  return {0}
end

local dev = data[2]
local stored = data[3]
local expires = tonumber(data[4])

local function destroy()
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", acct_prefix .. acct, session_id)
  redis.call("SREM", dev_prefix .. acct .. ":" .. dev, session_id)
end

if not stored or not expires then
  destroy()
  return {0}
end

if expires <= now_unix then
  destroy()
  return {1, acct, dev}
end

if stored ~= provided then
  destroy()
  return {2, acct, dev}
end

redis.call("HSET", KEYS[1], "refresh", next_hash)
return {3, acct, dev}
`

var rotateLua = redis.NewScript(rotateScript)

// deleteScript removes a session and its index entries atomically.
const deleteScript = `
local acct_prefix = ARGV[1]
local dev_prefix = ARGV[2]
local session_id = ARGV[3]

local data = redis.call("HMGET", KEYS[1], "acct", "dev")
local acct = data[1]
if not acct then
  return 0
end

redis.call("DEL", KEYS[1])
redis.call("ZREM", acct_prefix .. acct, session_id)
redis.call("SREM", dev_prefix .. acct .. ":" .. data[2], session_id)
return 1
`

var deleteLua = redis.NewScript(deleteScript)

// Store persists sessions as Redis hashes. An account index sorted by
// creation time supports oldest-first eviction; a per-device set
// supports device-scoped revocation.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session Store backed by the given Redis client.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "tok"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

func (s *Store) deviceKey(accountID, deviceID string) string {
	return s.prefix + ":d:" + accountID + ":" + deviceID
}

// Save persists a session and indexes it under its account and device.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return ErrSessionExpired
	}

	key := s.sessionKey(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"acct", sess.AccountID,
			"dev", sess.DeviceID,
			"refresh", string(sess.RefreshHash[:]),
			"created", sess.CreatedAt,
			"expires", sess.ExpiresAt,
			"ip", sess.IP,
			"ua", sess.UserAgent,
		)
		pipe.PExpire(ctx, key, ttl)
		pipe.ZAdd(ctx, s.accountKey(sess.AccountID), redis.Z{
			Score:  float64(sess.CreatedAt),
			Member: sess.ID,
		})
		pipe.SAdd(ctx, s.deviceKey(sess.AccountID, sess.DeviceID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get fetches a session by id. Expired sessions are destroyed on read.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	sess, err := decodeSession(sessionID, fields)
	if err != nil {
		return nil, err
	}

	if sess.ExpiresAt <= time.Now().Unix() {
		if _, delErr := s.Delete(ctx, sessionID); delErr != nil {
			return nil, delErr
		}
		return nil, ErrSessionExpired
	}

	return sess, nil
}

// Rotate atomically swaps the stored refresh hash if providedHash
// matches. On mismatch the session is destroyed and ErrRefreshMismatch
// returned, with the owning account and device in the result.
func (s *Store) Rotate(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
) (*RotateResult, error) {
	raw, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.sessionKey(sessionID)},
		s.prefix+":a:",
		s.prefix+":d:",
		sessionID,
		string(providedHash[:]),
		string(nextHash[:]),
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	result := &RotateResult{}
	if len(parts) >= 3 {
		result.AccountID, _ = luaString(parts[1])
		result.DeviceID, _ = luaString(parts[2])
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrSessionNotFound
	case rotateStatusExpired:
		return result, ErrSessionExpired
	case rotateStatusMismatch:
		return result, ErrRefreshMismatch
	case rotateStatusRotated:
		sess, getErr := s.Get(ctx, sessionID)
		if getErr != nil {
			return nil, getErr
		}
		result.Session = sess
		return result, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Delete revokes a single session. Returns whether it existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	existed, err := deleteLua.Run(
		ctx,
		s.redis,
		[]string{s.sessionKey(sessionID)},
		s.prefix+":a:",
		s.prefix+":d:",
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// SessionIDs returns the account's tracked session ids, oldest first.
func (s *Store) SessionIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := s.redis.ZRange(ctx, s.accountKey(accountID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ActiveSessionCount returns the number of tracked sessions for an
// account. Index entries for naturally expired sessions are included
// until the next revocation touches them.
func (s *Store) ActiveSessionCount(ctx context.Context, accountID string) (int, error) {
	count, err := s.redis.ZCard(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// DeleteAllForAccount revokes every session belonging to an account and
// returns how many live sessions were destroyed.
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	ids, err := s.SessionIDs(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return s.deleteBatch(ctx, ids)
}

// DeleteAllForDevice revokes every session an account holds on one
// device.
func (s *Store) DeleteAllForDevice(ctx context.Context, accountID, deviceID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.deviceKey(accountID, deviceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.deleteBatch(ctx, ids)
}

// EvictOverCap destroys the oldest sessions until the account holds at
// most max. Returns the evicted session ids, oldest first.
func (s *Store) EvictOverCap(ctx context.Context, accountID string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}

	ids, err := s.SessionIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(ids) <= max {
		return nil, nil
	}

	evict := ids[:len(ids)-max]
	evicted := make([]string, 0, len(evict))
	for _, id := range evict {
		existed, delErr := s.Delete(ctx, id)
		if delErr != nil {
			return evicted, delErr
		}
		if !existed {
			// Stale index entry for a naturally expired session.
			if err := s.redis.ZRem(ctx, s.accountKey(accountID), id).Err(); err != nil {
				return evicted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			continue
		}
		evicted = append(evicted, id)
	}

	return evicted, nil
}

func (s *Store) deleteBatch(ctx context.Context, ids []string) (int, error) {
	var deleted int
	for _, id := range ids {
		existed, err := s.Delete(ctx, id)
		if err != nil {
			return deleted, err
		}
		if existed {
			deleted++
		}
	}
	return deleted, nil
}

func decodeSession(sessionID string, fields map[string]string) (*Session, error) {
	refresh := fields["refresh"]
	if len(refresh) != 32 {
		return nil, ErrSessionCorrupt
	}

	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	if fields["acct"] == "" || fields["dev"] == "" {
		return nil, ErrSessionCorrupt
	}

	sess := &Session{
		ID:        sessionID,
		AccountID: fields["acct"],
		DeviceID:  fields["dev"],
		CreatedAt: created,
		ExpiresAt: expires,
		IP:        fields["ip"],
		UserAgent: fields["ua"],
	}
	copy(sess.RefreshHash[:], refresh)

	return sess, nil
}

func luaString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}
