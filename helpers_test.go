package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/commercekit/authcore/password"
)

const (
	testPassword   = "correct horse battery"
	testIdentifier = "alice@shop.example"
)

// fakeAccounts is an in-memory AccountStore with the same atomicity
// guarantees the interface demands of real backends.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byIdent  map[string]string
	backup   map[string][]backupEntry
}

type backupEntry struct {
	hash [32]byte
	used bool
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		accounts: make(map[string]*Account),
		byIdent:  make(map[string]string),
		backup:   make(map[string][]backupEntry),
	}
}

func (f *fakeAccounts) add(account *Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *account
	f.accounts[account.ID] = &cp
	f.byIdent[strings.ToLower(account.Identifier)] = account.ID
}

func (f *fakeAccounts) get(id string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[id]; ok {
		cp := *acct
		return &cp
	}
	return nil
}

func (f *fakeAccounts) GetByIdentifier(_ context.Context, identifier string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byIdent[strings.ToLower(identifier)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *f.accounts[id]
	return &cp, nil
}

func (f *fakeAccounts) GetByID(_ context.Context, accountID string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (f *fakeAccounts) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.PasswordHash = newHash
	return nil
}

func (f *fakeAccounts) RecordLoginFailure(_ context.Context, accountID string, threshold int, lock time.Duration) (int, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return 0, 0, ErrAccountNotFound
	}
	acct.FailedAttempts++
	if acct.FailedAttempts >= threshold {
		acct.LockedUntil = time.Now().Add(lock).Unix()
	}
	return acct.FailedAttempts, acct.LockedUntil, nil
}

func (f *fakeAccounts) ResetLoginFailures(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.FailedAttempts = 0
	acct.LockedUntil = 0
	return nil
}

func (f *fakeAccounts) UpdateMFA(_ context.Context, accountID string, settings MFASettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.MFA = settings
	return nil
}

func (f *fakeAccounts) MarkEmailVerified(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.EmailVerified = true
	return nil
}

func (f *fakeAccounts) MarkPhoneVerified(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.PhoneVerified = true
	return nil
}

func (f *fakeAccounts) ReplaceBackupCodes(_ context.Context, accountID string, hashes [][32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]backupEntry, len(hashes))
	for i, h := range hashes {
		entries[i] = backupEntry{hash: h}
	}
	f.backup[accountID] = entries
	return nil
}

func (f *fakeAccounts) ConsumeBackupCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, entry := range f.backup[accountID] {
		if !entry.used && entry.hash == hash {
			f.backup[accountID][i].used = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccounts) HasBackupCodes(_ context.Context, accountID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.backup[accountID] {
		if !entry.used {
			return true, nil
		}
	}
	return false, nil
}

// captureMailer records delivered codes for assertion.
type captureMailer struct {
	mu      sync.Mutex
	codes   []string
	notices []string
}

func (m *captureMailer) SendOTP(_ context.Context, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
	return nil
}

func (m *captureMailer) SendVerificationNotice(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, email)
	return nil
}

// lastCode waits for asynchronous delivery of the n-th code.
func (m *captureMailer) waitForCode(t *testing.T, n int) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		if len(m.codes) >= n {
			code := m.codes[n-1]
			m.mu.Unlock()
			return code
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("code %d was never delivered", n)
	return ""
}

type captureTexter struct {
	mu    sync.Mutex
	codes []string
}

func (s *captureTexter) SendOTP(_ context.Context, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
	return nil
}

func (s *captureTexter) waitForCode(t *testing.T, n int) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.codes) >= n {
			code := s.codes[n-1]
			s.mu.Unlock()
			return code
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sms code %d was never delivered", n)
	return ""
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Credentials.MaxFailedAttempts = 3
	cfg.Credentials.LockDuration = time.Minute
	// Most tests exercise password-only logins; the new-device policy
	// is switched on where a test targets it.
	cfg.Devices.RequireMFAForNewDevice = false
	// Keep login-path hashing cheap.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type testEnv struct {
	engine   *Engine
	accounts *fakeAccounts
	mailer   *captureMailer
	texter   *captureTexter
	hasher   *password.Hasher
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithSink(t, mutate, nil)
}

func newTestEnvWithSink(t *testing.T, mutate func(*Config), sink AuditSink) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	accounts := newFakeAccounts()
	mailer := &captureMailer{}
	texter := &captureTexter{}

	builder := New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccounts(accounts).
		WithMailer(mailer).
		WithTexter(texter)
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("hasher build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = client.Close()
		mr.Close()
	})

	return &testEnv{
		engine:   engine,
		accounts: accounts,
		mailer:   mailer,
		texter:   texter,
		hasher:   hasher,
	}
}

// addAccount seeds an active account with the standard test password.
func (env *testEnv) addAccount(t *testing.T, id string, mutate func(*Account)) *Account {
	t.Helper()

	hash, err := env.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	acct := &Account{
		ID:            id,
		Identifier:    testIdentifier,
		Email:         testIdentifier,
		Phone:         "+15550001234",
		PasswordHash:  hash,
		Role:          "customer",
		Status:        AccountActive,
		EmailVerified: true,
		PhoneVerified: true,
	}
	if mutate != nil {
		mutate(acct)
	}
	env.accounts.add(acct)
	return acct
}

// requestCtx simulates one browser's request metadata.
func requestCtx(ip, userAgent string) context.Context {
	ctx := WithClientIP(context.Background(), ip)
	ctx = WithUserAgent(ctx, userAgent)
	ctx = WithAcceptLanguage(ctx, "en-US,en;q=0.9")
	return WithAcceptEncoding(ctx, "gzip, br")
}

// mustLogin completes a password-only login and fails the test on any
// MFA requirement.
func (env *testEnv) mustLogin(t *testing.T, ctx context.Context) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(ctx, testIdentifier, testPassword, LoginOptions{})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if res.MFARequired {
		t.Fatal("unexpected mfa requirement")
	}
	return res
}

func isErr(err, target error) bool {
	return errors.Is(err, target)
}
