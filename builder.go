package authcore

import (
	"errors"

	"github.com/commercekit/authcore/device"
	"github.com/commercekit/authcore/otp"
	"github.com/commercekit/authcore/password"
	"github.com/commercekit/authcore/seclog"
	"github.com/commercekit/authcore/token"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use: Build returns
// an error on the second call.
type Builder struct {
	config Config

	redis    *redis.Client
	accounts AccountStore
	mailer   Mailer
	texter   Texter
	sink     AuditSink

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithAccounts sets the account repository the engine authenticates
// against.
func (b *Builder) WithAccounts(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithMailer enables email OTP delivery and verification notices.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithTexter enables SMS OTP delivery.
func (b *Builder) WithTexter(t Texter) *Builder {
	b.texter = t
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.ManagerConfig{
		AccessTTL:     cfg.JWT.AccessTTL,
		PendingTTL:    cfg.JWT.PendingTTL,
		SigningMethod: token.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	totp, err := otp.NewTOTP(otp.TOTPConfig{
		Issuer: cfg.TOTP.Issuer,
		Digits: cfg.TOTP.Digits,
		Period: cfg.TOTP.Period,
		Skew:   cfg.TOTP.Skew,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		accounts:   b.accounts,
		hasher:     hasher,
		tokens:     tokens,
		sessions:   token.NewStore(b.redis, cfg.Sessions.RedisPrefix),
		challenges: otp.NewChallengeStore(b.redis, cfg.OTP.RedisPrefix),
		totp:       totp,
		devices:    device.NewRegistry(b.redis, cfg.Devices.RedisPrefix),
		events:     seclog.NewStore(b.redis, cfg.SecurityLog.RedisPrefix, cfg.SecurityLog.MaxEventsPerAccount, cfg.SecurityLog.Retention),
		mailer:     b.mailer,
		texter:     b.texter,
		audit:      newAuditDispatcher(cfg.Audit, b.sink),
		metrics:    newMetrics(cfg.Metrics.Enabled),
	}

	b.built = true

	return engine, nil
}
