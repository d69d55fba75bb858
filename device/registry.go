package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrDeviceNotFound is returned when neither the fingerprint nor
	// the device id matches a registered device for the account.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceRedisUnavailable wraps transport-level Redis failures.
	ErrDeviceRedisUnavailable = errors.New("device redis unavailable")
)

// Record is one known device for an account.
type Record struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Trusted     bool   `json:"trusted"`
	FirstSeen   int64  `json:"first_seen"`
	LastSeen    int64  `json:"last_seen"`
	IP          string `json:"ip,omitempty"`
	Browser     string `json:"browser,omitempty"`
	OS          string `json:"os,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Registry stores each account's known devices in one Redis hash keyed
// by fingerprint.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRegistry creates a Registry backed by the given Redis client.
func NewRegistry(client redis.UniversalClient, prefix string) *Registry {
	if prefix == "" {
		prefix = "dev"
	}
	return &Registry{redis: client, prefix: prefix}
}

func (r *Registry) key(accountID string) string {
	return r.prefix + ":r:" + accountID
}

// Lookup returns the registered device matching a fingerprint.
func (r *Registry) Lookup(ctx context.Context, accountID, fingerprint string) (*Record, error) {
	data, err := r.redis.HGet(ctx, r.key(accountID), fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceRedisUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Register records a successful login from a device. A new fingerprint
// creates an untrusted record; a known one has its last-seen data
// refreshed. The registration itself never grants trust.
func (r *Registry) Register(
	ctx context.Context,
	accountID, fingerprint string,
	attrs Attributes,
	location string,
) (*Record, error) {
	const maxRetries = 4
	key := r.key(accountID)

	for i := 0; i < maxRetries; i++ {
		var result *Record

		err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
			now := time.Now().Unix()

			var rec Record
			data, err := tx.HGet(ctx, key, fingerprint).Bytes()
			switch {
			case err == nil:
				if err := json.Unmarshal(data, &rec); err != nil {
					return err
				}
				rec.LastSeen = now
				rec.IP = attrs.IP
				if location != "" {
					rec.Location = location
				}
			case errors.Is(err, redis.Nil):
				browser, os := DescribeUserAgent(attrs.UserAgent)
				rec = Record{
					ID:          uuid.NewString(),
					Fingerprint: fingerprint,
					FirstSeen:   now,
					LastSeen:    now,
					IP:          attrs.IP,
					Browser:     browser,
					OS:          os,
					Location:    location,
				}
			default:
				return err
			}

			encoded, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fingerprint, encoded)
				return nil
			})
			if err != nil {
				return err
			}

			result = &rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceRedisUnavailable, err)
		}

		return result, nil
	}

	return nil, fmt.Errorf("%w: register contention", ErrDeviceRedisUnavailable)
}

// SetTrusted flips the explicit trust bit on a device by id.
func (r *Registry) SetTrusted(ctx context.Context, accountID, deviceID string, trusted bool) (*Record, error) {
	const maxRetries = 4
	key := r.key(accountID)

	for i := 0; i < maxRetries; i++ {
		var result *Record

		err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := findByID(ctx, tx, key, deviceID)
			if err != nil {
				return err
			}

			rec.Trusted = trusted
			encoded, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, rec.Fingerprint, encoded)
				return nil
			})
			if err != nil {
				return err
			}

			result = rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrDeviceRedisUnavailable, err)
		}

		return result, nil
	}

	return nil, fmt.Errorf("%w: trust contention", ErrDeviceRedisUnavailable)
}

// Remove deletes a device by id and returns the removed record so the
// caller can revoke its sessions.
func (r *Registry) Remove(ctx context.Context, accountID, deviceID string) (*Record, error) {
	const maxRetries = 4
	key := r.key(accountID)

	for i := 0; i < maxRetries; i++ {
		var result *Record

		err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := findByID(ctx, tx, key, deviceID)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, key, rec.Fingerprint)
				return nil
			})
			if err != nil {
				return err
			}

			result = rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrDeviceRedisUnavailable, err)
		}

		return result, nil
	}

	return nil, fmt.Errorf("%w: remove contention", ErrDeviceRedisUnavailable)
}

// List returns all known devices for an account, most recently seen
// first.
func (r *Registry) List(ctx context.Context, accountID string) ([]*Record, error) {
	fields, err := r.redis.HGetAll(ctx, r.key(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceRedisUnavailable, err)
	}

	records := make([]*Record, 0, len(fields))
	for _, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].LastSeen != records[j].LastSeen {
			return records[i].LastSeen > records[j].LastSeen
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}

func findByID(ctx context.Context, tx *redis.Tx, key, deviceID string) (*Record, error) {
	fields, err := tx.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	for _, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, err
		}
		if rec.ID == deviceID {
			return &rec, nil
		}
	}

	return nil, ErrDeviceNotFound
}
