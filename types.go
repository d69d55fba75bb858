package authcore

import (
	"context"
	"time"

	"github.com/commercekit/authcore/device"
	"github.com/commercekit/authcore/otp"
	"github.com/commercekit/authcore/seclog"
)

// AccountStatus is the lifecycle state of an account. Lockout is not a
// status: it is a timed condition tracked by LockedUntil.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountPendingVerification
	AccountDisabled
	AccountDeleted
)

// MFAChannel is the account's preferred second factor.
type MFAChannel string

const (
	MFAChannelEmail MFAChannel = "email"
	MFAChannelSMS   MFAChannel = "sms"
	MFAChannelTOTP  MFAChannel = "totp"
)

// MFASettings holds an account's second-factor configuration. The TOTP
// secret is stored by the account backend; the engine never persists
// it elsewhere.
type MFASettings struct {
	Enabled       bool
	Channel       MFAChannel
	TOTPSecret    string
	TOTPConfirmed bool
}

// Account is the engine's view of one customer account. The engine
// treats it as a read snapshot; all writes go through AccountStore
// methods with their own atomicity.
type Account struct {
	ID             string
	Identifier     string
	Email          string
	Phone          string
	PasswordHash   string
	Role           string
	Status         AccountStatus
	EmailVerified  bool
	PhoneVerified  bool
	FailedAttempts int
	LockedUntil    int64
	MFA            MFASettings
}

// Locked reports whether a lockout is active at the given time.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil > 0 && now.Unix() < a.LockedUntil
}

// AccountStore is the repository interface callers implement to
// integrate the engine with their account database. Counter and
// backup-code operations must be atomic at the storage layer; the
// engine never does read-modify-write on them.
type AccountStore interface {
	// GetByIdentifier resolves an account by email or username. The
	// match must be case-insensitive; the engine additionally lowercases
	// identifiers before lookup.
	GetByIdentifier(ctx context.Context, identifier string) (*Account, error)
	GetByID(ctx context.Context, accountID string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error

	// RecordLoginFailure atomically increments the failure counter and,
	// when the new count reaches threshold, sets the lockout expiry.
	// It returns the new count and the active lockout expiry (0 when
	// not locked).
	RecordLoginFailure(ctx context.Context, accountID string, threshold int, lock time.Duration) (int, int64, error)
	ResetLoginFailures(ctx context.Context, accountID string) error

	UpdateMFA(ctx context.Context, accountID string, settings MFASettings) error
	MarkEmailVerified(ctx context.Context, accountID string) error
	MarkPhoneVerified(ctx context.Context, accountID string) error

	// ReplaceBackupCodes swaps the full backup-code set for the account.
	ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error
	// ConsumeBackupCode marks the matching unused code as used in one
	// conditional write. It returns false when no unused code matches.
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
	// HasBackupCodes reports whether any unused codes remain.
	HasBackupCodes(ctx context.Context, accountID string) (bool, error)
}

// LoginOptions tune a single login call.
type LoginOptions struct {
	// RememberDevice marks the device trusted after this login fully
	// succeeds (including any MFA step).
	RememberDevice bool
}

// LoginResult is returned by Login and VerifyMFA. Either the token pair
// is populated, or MFARequired is set with the intermediate token.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	MFARequired bool
	MFAChannel  MFAChannel
	// MFAToken is the short-lived intermediate token that VerifyMFA
	// accepts in place of credentials.
	MFAToken string
	// Destination is the masked delivery target for email/SMS codes.
	Destination string

	Device *device.Record
}

// AccessInfo is the verified identity carried by an access token.
type AccessInfo struct {
	AccountID string
	Role      string
	DeviceID  string
	SessionID string
}

// MFAEnrollment is returned by EnableMFA. For TOTP it carries the
// secret and provisioning URI the caller renders; for email/SMS it
// carries the masked destination the confirmation code went to.
type MFAEnrollment struct {
	Channel     MFAChannel
	Secret      string
	URI         string
	Destination string
}

// SecuritySummary is the read-only account security posture returned
// by SecuritySummary.
type SecuritySummary struct {
	Score           int
	MFAEnabled      bool
	RecentFailures  int
	ActiveSessions  int
	KnownDevices    int
	TrustedDevices  int
	Events          []*seclog.Event
	Recommendations []string
}

// Mailer delivers codes and notices over email. Implementations own
// templating and transport.
type Mailer interface {
	SendOTP(ctx context.Context, email, code string) error
	SendVerificationNotice(ctx context.Context, email string) error
}

// Texter delivers codes over SMS.
type Texter interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// challengePurposeFor maps an engine flow to the otp purpose keyspace.
const (
	challengePurposeLogin   = otp.PurposeLogin
	challengePurposeEnroll  = otp.PurposeEnroll
	challengePurposeDisable = otp.PurposeDisable
)
