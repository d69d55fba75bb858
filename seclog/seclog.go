package seclog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("seclog redis unavailable")

// Kind identifies what happened.
type Kind string

const (
	KindLoginSuccess      Kind = "login_success"
	KindLoginFailure      Kind = "login_failure"
	KindLockout           Kind = "lockout"
	KindOTPIssued         Kind = "otp_issued"
	KindMFASuccess        Kind = "mfa_success"
	KindMFAFailure        Kind = "mfa_failure"
	KindMFAEnabled        Kind = "mfa_enabled"
	KindMFADisabled       Kind = "mfa_disabled"
	KindTokenReuse        Kind = "token_reuse"
	KindSessionRevoked    Kind = "session_revoked"
	KindPasswordChanged   Kind = "password_changed"
	KindDeviceRegistered  Kind = "device_registered"
	KindDeviceTrusted     Kind = "device_trusted"
	KindDeviceRemoved     Kind = "device_removed"
	KindBackupCodeUsed    Kind = "backup_code_used"
	KindBackupCodesIssued Kind = "backup_codes_issued"
)

// Severity grades an event for the summary surface.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// failureKinds feed the windowed failure count.
var failureKinds = map[Kind]bool{
	KindLoginFailure: true,
	KindMFAFailure:   true,
	KindLockout:      true,
	KindTokenReuse:   true,
}

// IsFailure reports whether events of this kind count toward the
// recent-failure window.
func (k Kind) IsFailure() bool {
	return failureKinds[k]
}

// Event is one immutable log entry.
type Event struct {
	ID        string   `json:"id"`
	AccountID string   `json:"account"`
	Kind      Kind     `json:"kind"`
	Severity  Severity `json:"severity"`
	Detail    string   `json:"detail,omitempty"`
	IP        string   `json:"ip,omitempty"`
	DeviceID  string   `json:"device_id,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
	At        int64    `json:"at"`
}

// Store keeps a capped per-account event list plus a sorted set of
// failure timestamps for windowed counting.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	cap       int64
	retention time.Duration
}

// NewStore creates a Store. cap bounds the per-account list; retention
// bounds how long idle accounts keep their log.
func NewStore(client redis.UniversalClient, prefix string, cap int, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "slog"
	}
	if cap <= 0 {
		cap = 512
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Store{redis: client, prefix: prefix, cap: int64(cap), retention: retention}
}

func (s *Store) listKey(accountID string) string {
	return s.prefix + ":e:" + accountID
}

func (s *Store) failKey(accountID string) string {
	return s.prefix + ":f:" + accountID
}

// Record appends an event. Missing id, severity, or timestamp are
// filled in; everything else is stored as given.
func (s *Store) Record(ctx context.Context, ev *Event) error {
	if ev.AccountID == "" {
		return errors.New("seclog event requires account id")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At == 0 {
		ev.At = time.Now().Unix()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}

	encoded, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	listKey := s.listKey(ev.AccountID)
	failKey := s.failKey(ev.AccountID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, listKey, encoded)
		pipe.LTrim(ctx, listKey, 0, s.cap-1)
		pipe.Expire(ctx, listKey, s.retention)
		if ev.Kind.IsFailure() {
			pipe.ZAdd(ctx, failKey, redis.Z{Score: float64(ev.At), Member: ev.ID})
			pipe.ZRemRangeByScore(ctx, failKey, "0", strconv.FormatInt(ev.At-int64(s.retention.Seconds()), 10))
			pipe.Expire(ctx, failKey, s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// RecentFailures counts failure events within the trailing window. It
// reads only the log; it is independent of any cached counter kept on
// the account row.
func (s *Store) RecentFailures(ctx context.Context, accountID string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, errors.New("seclog window must be positive")
	}

	from := time.Now().Add(-window).Unix()
	count, err := s.redis.ZCount(
		ctx,
		s.failKey(accountID),
		strconv.FormatInt(from, 10),
		"+inf",
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(count), nil
}

// Recent returns up to n newest events for an account, newest first.
func (s *Store) Recent(ctx context.Context, accountID string, n int) ([]*Event, error) {
	if n <= 0 {
		n = 20
	}

	raw, err := s.redis.LRange(ctx, s.listKey(accountID), 0, int64(n-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Event{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	events := make([]*Event, 0, len(raw))
	for _, entry := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(entry), &ev); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}

	return events, nil
}
