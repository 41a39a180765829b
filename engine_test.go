package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type mockUserStore struct {
	mu           sync.Mutex
	users        map[string]UserRecord
	byIdentifier map[string]string

	getByIdentifierCalls int
	getByIDCalls         int
	updateStatusCalls    int
	updatePasswordCalls  int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:        make(map[string]UserRecord),
		byIdentifier: make(map[string]string),
	}
}

func (m *mockUserStore) putUser(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
	m.byIdentifier[u.Identifier] = u.UserID
}

func (m *mockUserStore) setRoles(userID string, roles []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.Roles = roles
	m.users[userID] = u
}

func (m *mockUserStore) status(userID string) AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].Status
}

func (m *mockUserStore) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIdentifierCalls++

	id, ok := m.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *mockUserStore) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIDCalls++

	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserStore) UpdateAccountStatus(_ context.Context, userID string, status AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateStatusCalls++

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	m.users[userID] = u
	return nil
}

func (m *mockUserStore) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordCalls++

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = newHash
	m.users[userID] = u
	return nil
}

func testEngineConfig() Config {
	cfg := defaultConfig()
	// Fast argon2 parameters keep the suite quick; the hard minimums still
	// hold.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Lockout.MaxFailures = 3
	cfg.Lockout.Window = time.Minute
	return cfg
}

func testRoleTable() map[string][]string {
	return map[string][]string{
		"viewer": {"documents.read"},
		"editor": {"documents.read", "documents.write"},
		"admin":  {"documents.*", "admin.panel"},
	}
}

// newTestEngine builds an engine over miniredis with one seeded user,
// alice@example.com / correct-horse, holding the viewer role.
func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *mockUserStore) {
	t.Helper()
	return buildTestEngine(t, mutate, nil)
}

func newTestEngineWithSink(t *testing.T, sink AuditSink) (*Engine, *mockUserStore) {
	t.Helper()
	return buildTestEngine(t, nil, sink)
}

func buildTestEngine(t *testing.T, mutate func(*Config), sink AuditSink) (*Engine, *mockUserStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	users := newMockUserStore()

	b := NewBuilder().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithSigningKey(testSigningKey).
		WithRoles(testRoleTable())
	if sink != nil {
		b = b.WithAuditSink(sink)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.hasher.Hash("correct-horse")
	if err != nil {
		t.Fatalf("seed hash failed: %v", err)
	}
	users.putUser(UserRecord{
		UserID:       "user-1",
		Identifier:   "alice@example.com",
		PasswordHash: hash,
		Roles:        []string{"viewer"},
		Status:       AccountActive,
	})

	return engine, users
}

func TestLoginReturnsUsableTokenPair(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)

	pair, err := engine.Login(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}

	result, err := engine.Authorize(ctx, pair.AccessToken, "documents.read")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if result.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", result.UserID)
	}
	if len(result.Roles) != 1 || result.Roles[0] != "viewer" {
		t.Errorf("Roles = %v, want [viewer]", result.Roles)
	}

	if got := engine.Metrics().Value(MetricLoginSuccess); got != 1 {
		t.Errorf("MetricLoginSuccess = %d, want 1", got)
	}
}

func TestLoginUnknownAndWrongPasswordLookAlike(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)

	_, errUnknown := engine.Login(ctx, "nobody@example.com", "whatever")
	_, errWrong := engine.Login(ctx, "alice@example.com", "wrong-horse")

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("unknown identifier: got %v, want ErrInvalidCredentials", errUnknown)
	}
	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", errWrong)
	}
}

func TestLoginRejectsEmptyInput(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)

	if _, err := engine.Login(ctx, "", "pw"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if _, err := engine.Login(ctx, "alice@example.com", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestLoginDisabledAccountReportsStatus(t *testing.T) {
	ctx := context.Background()
	engine, users := newTestEngine(t, nil)

	if err := users.UpdateAccountStatus(ctx, "user-1", AccountDisabled); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// Status wins even with the correct password.
	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("got %v, want ErrAccountDisabled", err)
	}

	// And with a wrong one: status is checked before the credential result
	// is revealed.
	if _, err := engine.Login(ctx, "alice@example.com", "wrong-horse"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("got %v, want ErrAccountDisabled", err)
	}
}

func TestLockoutAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	engine, users := newTestEngine(t, nil)

	for i := 0; i < 2; i++ {
		if _, err := engine.Login(ctx, "alice@example.com", "wrong-horse"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	// Third failure crosses the threshold.
	if _, err := engine.Login(ctx, "alice@example.com", "wrong-horse"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("got %v, want ErrAccountLocked", err)
	}
	if users.status("user-1") != AccountLocked {
		t.Fatal("account must be locked in the store")
	}

	// The correct password no longer helps.
	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("got %v, want ErrAccountLocked", err)
	}

	if got := engine.Metrics().Value(MetricAccountLockout); got != 1 {
		t.Errorf("MetricAccountLockout = %d, want 1", got)
	}

	// Manual unlock restores access and clears the counter.
	if err := engine.UnlockAccount(ctx, "user-1"); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("Login after unlock failed: %v", err)
	}
}

func TestSuccessfulLoginResetsFailureCounter(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)

	for i := 0; i < 2; i++ {
		if _, err := engine.Login(ctx, "alice@example.com", "wrong-horse"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("got %v, want ErrInvalidCredentials", err)
		}
	}

	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Two more failures start a fresh count below the threshold of three.
	for i := 0; i < 2; i++ {
		if _, err := engine.Login(ctx, "alice@example.com", "wrong-horse"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("got %v, want ErrInvalidCredentials after reset", err)
		}
	}
}

func TestUnlockAccountEdgeCases(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)

	// Unlocking an account that is not locked is a no-op.
	if err := engine.UnlockAccount(ctx, "user-1"); err != nil {
		t.Fatalf("UnlockAccount on active account failed: %v", err)
	}

	if err := engine.UnlockAccount(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)

	pair, err := engine.Login(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := engine.ChangePassword(ctx, "user-1", "wrong-horse", "new-secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}

	if err := engine.ChangePassword(ctx, "user-1", "correct-horse", "new-secret"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// Every existing session is revoked.
	if _, err := engine.Authorize(ctx, pair.AccessToken, ""); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("got %v, want ErrSessionRevoked", err)
	}

	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := engine.Login(ctx, "alice@example.com", "new-secret"); err != nil {
		t.Fatalf("Login with new password failed: %v", err)
	}
}

func TestSweepRevokesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, func(cfg *Config) {
		cfg.JWT.AccessTTL = time.Millisecond
		cfg.JWT.RefreshTTL = 2 * time.Millisecond
		cfg.Session.AbsoluteLifetime = 100 * time.Millisecond
	})

	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	swept := engine.SweepNow(ctx)
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if got := engine.Metrics().Value(MetricSessionsSwept); got != 1 {
		t.Errorf("MetricSessionsSwept = %d, want 1", got)
	}

	// Idempotent: a second pass finds nothing.
	if swept := engine.SweepNow(ctx); swept != 0 {
		t.Fatalf("second sweep = %d, want 0", swept)
	}
}
