package otp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrChallengeNotFound is returned when no active challenge exists
	// for the account and purpose, or the presented challenge id refers
	// to one that has since been replaced.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired is returned when the challenge outlived its
	// TTL. The record is destroyed.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrCodeMismatch is returned for a wrong code while attempts
	// remain.
	ErrCodeMismatch = errors.New("challenge code mismatch")

	// ErrAttemptsExceeded is returned when the attempt budget is spent.
	// The record is destroyed; the caller must issue a new challenge.
	ErrAttemptsExceeded = errors.New("challenge attempts exceeded")

	// ErrChallengeRedisUnavailable wraps transport-level failures.
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
)

// Challenge is one pending second-factor verification. CodeHash is
// empty for TOTP and backup-code channels, where verification happens
// against account-held material and the challenge only carries the
// attempt budget.
type Challenge struct {
	ID          string   `json:"id"`
	AccountID   string   `json:"account"`
	Purpose     Purpose  `json:"purpose"`
	Channel     Channel  `json:"channel"`
	CodeHash    [32]byte `json:"code_hash"`
	Destination string   `json:"destination,omitempty"`
	IssuedAt    int64    `json:"issued_at"`
	ExpiresAt   int64    `json:"expires_at"`
	Attempts    uint16   `json:"attempts"`
}

// ChallengeStore keeps at most one live challenge per account and
// purpose in Redis. Writing a new challenge atomically supersedes the
// previous one, so a reissued code invalidates any earlier code.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewChallengeStore creates a ChallengeStore backed by the given Redis
// client.
func NewChallengeStore(client redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &ChallengeStore{redis: client, prefix: prefix}
}

func (s *ChallengeStore) key(accountID string, purpose Purpose) string {
	return s.prefix + ":c:" + accountID + ":" + string(purpose)
}

func (s *ChallengeStore) totpStepKey(accountID string) string {
	return s.prefix + ":ts:" + accountID
}

// Put stores a challenge, replacing any prior challenge for the same
// account and purpose.
func (s *ChallengeStore) Put(ctx context.Context, ch *Challenge) error {
	ttl := time.Until(time.Unix(ch.ExpiresAt, 0))
	if ttl <= 0 {
		return ErrChallengeExpired
	}

	encoded, err := json.Marshal(ch)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(ch.AccountID, ch.Purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	return nil
}

// Get returns the live challenge for an account and purpose without
// consuming an attempt. Expired challenges are destroyed on read.
func (s *ChallengeStore) Get(ctx context.Context, accountID string, purpose Purpose) (*Challenge, error) {
	key := s.key(accountID, purpose)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	var ch Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, err
	}

	if time.Now().Unix() > ch.ExpiresAt {
		if err := s.Delete(ctx, accountID, purpose); err != nil {
			return nil, err
		}
		return nil, ErrChallengeExpired
	}

	return &ch, nil
}

// Delete removes the challenge for an account and purpose, if any.
func (s *ChallengeStore) Delete(ctx context.Context, accountID string, purpose Purpose) error {
	if err := s.redis.Del(ctx, s.key(accountID, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Consume verifies a code against the stored hash under an optimistic
// transaction. Every call spends one attempt. Success, expiry, and
// budget exhaustion all destroy the challenge; only a wrong code with
// attempts remaining leaves it alive.
func (s *ChallengeStore) Consume(
	ctx context.Context,
	accountID string,
	purpose Purpose,
	challengeID string,
	providedHash [32]byte,
	maxAttempts int,
) (*Challenge, error) {
	const maxRetries = 4
	key := s.key(accountID, purpose)

	for i := 0; i < maxRetries; i++ {
		var matched *Challenge

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var ch Challenge
			if err := json.Unmarshal(data, &ch); err != nil {
				return err
			}

			if challengeID != "" && ch.ID != challengeID {
				// Stale reference to a superseded challenge. Leave the
				// live one untouched.
				return ErrChallengeNotFound
			}

			if time.Now().Unix() > ch.ExpiresAt {
				return deleteInTx(ctx, tx, key, ErrChallengeExpired)
			}

			ch.Attempts++

			if subtle.ConstantTimeCompare(ch.CodeHash[:], providedHash[:]) != 1 {
				if int(ch.Attempts) >= maxAttempts {
					return deleteInTx(ctx, tx, key, ErrAttemptsExceeded)
				}

				ttl := time.Until(time.Unix(ch.ExpiresAt, 0))
				if ttl <= 0 {
					return deleteInTx(ctx, tx, key, ErrChallengeExpired)
				}

				updated, err := json.Marshal(&ch)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrCodeMismatch
			}

			if err := deleteInTx(ctx, tx, key, nil); err != nil {
				return err
			}

			matched = &ch
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeNotFound),
				errors.Is(err, ErrChallengeExpired),
				errors.Is(err, ErrCodeMismatch),
				errors.Is(err, ErrAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrChallengeNotFound
}

// Fail spends one attempt on a challenge whose code is verified outside
// the store (TOTP and backup channels). Exhausting the budget destroys
// the challenge.
func (s *ChallengeStore) Fail(
	ctx context.Context,
	accountID string,
	purpose Purpose,
	maxAttempts int,
) error {
	const maxRetries = 4
	key := s.key(accountID, purpose)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var ch Challenge
			if err := json.Unmarshal(data, &ch); err != nil {
				return err
			}

			if time.Now().Unix() > ch.ExpiresAt {
				return deleteInTx(ctx, tx, key, ErrChallengeExpired)
			}

			ch.Attempts++
			if int(ch.Attempts) >= maxAttempts {
				return deleteInTx(ctx, tx, key, ErrAttemptsExceeded)
			}

			ttl := time.Until(time.Unix(ch.ExpiresAt, 0))
			if ttl <= 0 {
				return deleteInTx(ctx, tx, key, ErrChallengeExpired)
			}

			updated, err := json.Marshal(&ch)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return ErrChallengeNotFound
			case errors.Is(err, ErrChallengeExpired), errors.Is(err, ErrAttemptsExceeded):
				return err
			default:
				return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
			}
		}

		return nil
	}

	return ErrChallengeNotFound
}

// totpStepScript accepts a TOTP time step only if it is strictly newer
// than the last accepted one, closing the replay window within the skew
// tolerance.
const totpStepScript = `
local cur = tonumber(redis.call("GET", KEYS[1]) or "-1")
local step = tonumber(ARGV[1])
if step <= cur then
  return 0
end
redis.call("SET", KEYS[1], step, "PX", ARGV[2])
return 1
`

var totpStepLua = redis.NewScript(totpStepScript)

// MarkTOTPStep records the accepted TOTP step for an account. Returns
// false if the step was already used, which callers treat as a failed
// verification.
func (s *ChallengeStore) MarkTOTPStep(
	ctx context.Context,
	accountID string,
	step int64,
	retention time.Duration,
) (bool, error) {
	if retention <= 0 {
		retention = 10 * time.Minute
	}

	accepted, err := totpStepLua.Run(
		ctx,
		s.redis,
		[]string{s.totpStepKey(accountID)},
		step,
		retention.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	return accepted == 1, nil
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string, outcome error) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}
