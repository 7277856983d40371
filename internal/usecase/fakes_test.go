package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memCredentialStore mirrors the transactional semantics of the postgres repository.
type memCredentialStore struct {
	mu       sync.Mutex
	pending  map[string]domain.PendingRegistration
	accounts map[string]domain.Account

	existsErr  error
	upsertErr  error
	promoteErr error
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{
		pending:  make(map[string]domain.PendingRegistration),
		accounts: make(map[string]domain.Account),
	}
}

func (m *memCredentialStore) GetPendingByEmail(_ context.Context, email string) (*domain.PendingRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pending[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *memCredentialStore) UpsertPending(_ context.Context, record domain.PendingRegistration) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ResendCount = 0
	record.LastSentAt = nil
	m.pending[record.Email] = record
	return nil
}

func (m *memCredentialStore) RefreshPendingCode(_ context.Context, email, code string, expiresAt time.Time) (*domain.PendingRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pending[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec.OTPCode = code
	rec.OTPExpiresAt = expiresAt
	rec.ResendCount++
	m.pending[email] = rec
	return &rec, nil
}

func (m *memCredentialStore) MarkPendingSent(_ context.Context, email string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pending[email]
	if !ok {
		return repository.ErrNotFound
	}
	rec.LastSentAt = &sentAt
	m.pending[email] = rec
	return nil
}

func (m *memCredentialStore) DeletePending(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[email]; !ok {
		return repository.ErrNotFound
	}
	delete(m.pending, email)
	return nil
}

func (m *memCredentialStore) PromotePending(_ context.Context, email, code, accountCode string, createdAt time.Time) (*domain.Account, error) {
	if m.promoteErr != nil {
		return nil, m.promoteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.pending[email]
	if !ok || rec.OTPCode != code {
		return nil, repository.ErrNotFound
	}
	if _, taken := m.accounts[accountCode]; taken {
		return nil, repository.ErrAccountCodeTaken
	}
	for _, acct := range m.accounts {
		if acct.Email == rec.Email || acct.Mobile == rec.Mobile {
			return nil, fmt.Errorf("%w: accounts_email_key", repository.ErrConflict)
		}
	}

	delete(m.pending, email)
	acct := domain.Account{
		AccountCode:    accountCode,
		Email:          rec.Email,
		RegistrantType: rec.RegistrantType,
		DisplayName:    rec.DisplayName,
		Mobile:         rec.Mobile,
		Enterprise:     rec.Enterprise,
		PasswordHash:   rec.PasswordHash,
		CreatedAt:      createdAt,
	}
	m.accounts[accountCode] = acct
	return &acct, nil
}

func (m *memCredentialStore) AccountExists(_ context.Context, email, mobile string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.Email == email || acct.Mobile == mobile {
			return true, nil
		}
	}
	return false, nil
}

func (m *memCredentialStore) GetAccountByIdentifier(_ context.Context, identifier string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if strings.Contains(identifier, "@") && acct.Email == strings.ToLower(identifier) {
			return &acct, nil
		}
		if acct.AccountCode == strings.ToUpper(identifier) {
			return &acct, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memCredentialStore) accountCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

type sentEmail struct {
	email     string
	code      string
	expiresAt time.Time
}

type fakeNotifier struct {
	mu         sync.Mutex
	otps       []sentEmail
	welcomes   []string
	otpErr     error
	welcomeErr error
}

func (n *fakeNotifier) SendOTPEmail(_ context.Context, email, code string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.otpErr != nil {
		return n.otpErr
	}
	n.otps = append(n.otps, sentEmail{email: email, code: code, expiresAt: expiresAt})
	return nil
}

func (n *fakeNotifier) SendWelcomeEmail(_ context.Context, email, accountCode string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.welcomeErr != nil {
		return n.welcomeErr
	}
	n.welcomes = append(n.welcomes, email+"|"+accountCode)
	return nil
}

func (n *fakeNotifier) lastOTP() sentEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.otps) == 0 {
		return sentEmail{}
	}
	return n.otps[len(n.otps)-1]
}

type fakeSMS struct {
	sent []sentEmail
	err  error
}

func (f *fakeSMS) SendOTP(_ context.Context, mobile, code string, expiresAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{email: mobile, code: code, expiresAt: expiresAt})
	return nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (fakeHasher) Verify(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, "hashed:") {
		return false, errors.New("unsupported hash")
	}
	return encoded == "hashed:"+password, nil
}

// sequenceCodes yields the given account codes, then numbered fallbacks.
type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
	n     int
}

func (s *sequenceCodes) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if len(s.codes) > 0 {
		code := s.codes[0]
		s.codes = s.codes[1:]
		return code
	}
	return fmt.Sprintf("TZTEST%04d", s.n)
}

func fixedOTPs(codes ...string) codeGenerator {
	var mu sync.Mutex
	return func(_ int, previous string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		for len(codes) > 0 {
			code := codes[0]
			codes = codes[1:]
			if code != previous {
				return code, nil
			}
		}
		return "", errors.New("no more codes")
	}
}

type fakeGuard struct {
	mu      sync.Mutex
	clock   *testClock
	markers map[domain.Principal]time.Time
	err     error
}

func newFakeGuard(clock *testClock) *fakeGuard {
	return &fakeGuard{clock: clock, markers: make(map[domain.Principal]time.Time)}
}

func (g *fakeGuard) Acquire(_ context.Context, principal domain.Principal, interval time.Duration) (bool, time.Duration, error) {
	if g.err != nil {
		return false, 0, g.err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if until, ok := g.markers[principal]; ok && now.Before(until) {
		return false, until.Sub(now), nil
	}
	g.markers[principal] = now.Add(interval)
	return true, 0, nil
}

func (g *fakeGuard) Release(_ context.Context, principal domain.Principal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.markers, principal)
	return nil
}

type fakeEvents struct {
	mu        sync.Mutex
	initiated []domain.SignupInitiatedEvent
	created   []domain.AccountCreatedEvent
	err       error
}

func (f *fakeEvents) PublishSignupInitiated(_ context.Context, event domain.SignupInitiatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated = append(f.initiated, event)
	return f.err
}

func (f *fakeEvents) PublishAccountCreated(_ context.Context, event domain.AccountCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
	return f.err
}

type challengeKey struct {
	purpose   string
	principal domain.Principal
}

// memOTPStore keeps challenges past expiry for the retention window, like the redis repository.
type memOTPStore struct {
	mu         sync.Mutex
	clock      *testClock
	challenges map[challengeKey]domain.OTPChallenge
	storeErr   error
}

func newMemOTPStore(clock *testClock) *memOTPStore {
	return &memOTPStore{clock: clock, challenges: make(map[challengeKey]domain.OTPChallenge)}
}

func (m *memOTPStore) Store(_ context.Context, purpose string, principal domain.Principal, code string, window, _ time.Duration) (*domain.OTPChallenge, error) {
	if m.storeErr != nil {
		return nil, m.storeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	ch := domain.OTPChallenge{
		Purpose:   purpose,
		Principal: principal,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(window),
	}
	m.challenges[challengeKey{purpose, principal}] = ch
	return &ch, nil
}

func (m *memOTPStore) Fetch(_ context.Context, purpose string, principal domain.Principal) (*domain.OTPChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[challengeKey{purpose, principal}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ch, nil
}

func (m *memOTPStore) IncrementAttempts(_ context.Context, purpose string, principal domain.Principal) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := challengeKey{purpose, principal}
	ch, ok := m.challenges[key]
	if !ok {
		return 0, repository.ErrNotFound
	}
	ch.Attempts++
	m.challenges[key] = ch
	return ch.Attempts, nil
}

func (m *memOTPStore) Delete(_ context.Context, purpose string, principal domain.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := challengeKey{purpose, principal}
	if _, ok := m.challenges[key]; !ok {
		return repository.ErrNotFound
	}
	delete(m.challenges, key)
	return nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	stages     map[string]int
	deliveries map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{stages: map[string]int{}, deliveries: map[string]int{}}
}

func (r *recordingMetrics) ObserveStage(stage, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stage+"/"+outcome]++
}

func (r *recordingMetrics) ObserveDelivery(channel string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "sent"
	if err != nil {
		result = "failed"
	}
	r.deliveries[channel+"/"+result]++
}
