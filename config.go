package authcore

import (
	"errors"
	"time"

	"github.com/commercekit/authcore/otp"
)

// Config is the complete engine configuration. Zero values are filled
// from defaultConfig by the Builder; Validate runs at build time and
// rejects unsafe combinations instead of silently correcting them.
type Config struct {
	Credentials CredentialsConfig
	Password    PasswordConfig
	JWT         JWTConfig
	Sessions    SessionsConfig
	OTP         OTPConfig
	TOTP        TOTPConfig
	BackupCodes BackupCodesConfig
	Devices     DevicesConfig
	SecurityLog SecurityLogConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// CredentialsConfig controls the first factor: lockout thresholds and
// the email-verification gate.
type CredentialsConfig struct {
	// MaxFailedAttempts is the consecutive-failure count that triggers
	// a lockout.
	MaxFailedAttempts int
	// LockDuration is how long a triggered lockout lasts.
	LockDuration time.Duration
	// RequireVerifiedEmail rejects logins from accounts that have not
	// verified their email. When false, unverified accounts may log in
	// and receive an advisory verification notice.
	RequireVerifiedEmail bool
}

// PasswordConfig carries Argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

// JWTConfig configures the token signer.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	PendingTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// SessionsConfig controls the refresh-session store.
type SessionsConfig struct {
	RedisPrefix string
	// MaxPerAccount caps concurrent sessions; exceeding it evicts the
	// oldest. Zero disables the cap.
	MaxPerAccount int
}

// OTPConfig is shared by email and SMS challenge codes.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	RedisPrefix string
}

// TOTPConfig configures authenticator-app verification.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// BackupCodesConfig controls recovery code batches.
type BackupCodesConfig struct {
	Count  int
	Length int
}

// DevicesConfig controls the known-device registry and its influence on
// the login flow.
type DevicesConfig struct {
	RedisPrefix string
	// RequireMFAForNewDevice forces a second factor when the login
	// comes from a fingerprint the account has never completed a login
	// from, even if the account could otherwise skip it.
	RequireMFAForNewDevice bool
	// TrustedSkipsMFA lets logins from explicitly trusted devices skip
	// the second factor.
	TrustedSkipsMFA bool
}

// SecurityLogConfig controls the append-only event log.
type SecurityLogConfig struct {
	RedisPrefix string
	// MaxEventsPerAccount caps the per-account history.
	MaxEventsPerAccount int
	Retention           time.Duration
	// FailureWindow is the default window for the recent-failure count
	// in the security summary.
	FailureWindow time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the
	// buffer is full. Drops are counted.
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Credentials: CredentialsConfig{
			MaxFailedAttempts: 5,
			LockDuration:      15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			PendingTTL:    5 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Sessions: SessionsConfig{
			RedisPrefix:   "ack:tok",
			MaxPerAccount: 10,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
			RedisPrefix: "ack:otp",
		},
		TOTP: TOTPConfig{
			Issuer: "commercekit",
			Digits: 6,
			Period: 30,
			Skew:   1,
		},
		BackupCodes: BackupCodesConfig{
			Count:  otp.DefaultBackupCodeCount,
			Length: otp.DefaultBackupCodeLength,
		},
		Devices: DevicesConfig{
			RedisPrefix:            "ack:dev",
			RequireMFAForNewDevice: true,
			TrustedSkipsMFA:        true,
		},
		SecurityLog: SecurityLogConfig{
			RedisPrefix:         "ack:slog",
			MaxEventsPerAccount: 512,
			Retention:           90 * 24 * time.Hour,
			FailureWindow:       time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations that would weaken the engine's
// security properties.
func (c *Config) Validate() error {
	if c.Credentials.MaxFailedAttempts < 3 {
		return errors.New("credentials MaxFailedAttempts must be >= 3")
	}
	if c.Credentials.LockDuration < time.Minute {
		return errors.New("credentials LockDuration must be >= 1m")
	}

	if c.Password.MinLength < 8 {
		return errors.New("password MinLength must be >= 8")
	}

	if c.JWT.AccessTTL <= 0 || c.JWT.AccessTTL > time.Hour {
		return errors.New("jwt AccessTTL must be in (0, 1h]")
	}
	if c.JWT.RefreshTTL < time.Hour {
		return errors.New("jwt RefreshTTL must be >= 1h")
	}
	if c.JWT.PendingTTL <= 0 || c.JWT.PendingTTL > 15*time.Minute {
		return errors.New("jwt PendingTTL must be in (0, 15m]")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("jwt SigningMethod must be ed25519 or hs256")
	}

	if c.Sessions.MaxPerAccount < 0 {
		return errors.New("sessions MaxPerAccount must be >= 0")
	}

	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("otp Digits must be in [6, 10]")
	}
	if c.OTP.TTL < 30*time.Second || c.OTP.TTL > 30*time.Minute {
		return errors.New("otp TTL must be in [30s, 30m]")
	}
	if c.OTP.MaxAttempts < 1 || c.OTP.MaxAttempts > 10 {
		return errors.New("otp MaxAttempts must be in [1, 10]")
	}

	if c.BackupCodes.Count < 1 || c.BackupCodes.Count > 32 {
		return errors.New("backup code Count must be in [1, 32]")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length > 20 || c.BackupCodes.Length%2 != 0 {
		return errors.New("backup code Length must be even and in [8, 20]")
	}

	if c.SecurityLog.MaxEventsPerAccount < 16 {
		return errors.New("security log MaxEventsPerAccount must be >= 16")
	}
	if c.SecurityLog.FailureWindow < time.Minute {
		return errors.New("security log FailureWindow must be >= 1m")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
