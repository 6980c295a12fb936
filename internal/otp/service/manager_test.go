package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/otp/domain"
)

type memChallengeRepo struct {
	mu sync.Mutex
	m  map[string]*domain.Challenge
}

func newMemChallengeRepo() *memChallengeRepo {
	return &memChallengeRepo{m: make(map[string]*domain.Challenge)}
}

func (r *memChallengeRepo) Issue(ctx context.Context, c *domain.Challenge, cooldown time.Duration) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.m {
		if e.Phone != c.Phone {
			continue
		}
		if wait := e.CreatedAt.Add(cooldown).Sub(c.CreatedAt); wait > 0 {
			return wait, nil
		}
	}
	for _, e := range r.m {
		if e.Phone == c.Phone {
			e.Consumed = true
		}
	}
	c2 := *c
	r.m[c.ID] = &c2
	return 0, nil
}

func (r *memChallengeRepo) byPhone(phone string) []*domain.Challenge {
	var out []*domain.Challenge
	for _, e := range r.m {
		if e.Phone == phone {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memChallengeRepo) Latest(ctx context.Context, phone string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.byPhone(phone)
	if len(all) == 0 {
		return nil, nil
	}
	c := *all[0]
	return &c, nil
}

func (r *memChallengeRepo) RecordFailure(ctx context.Context, id string, maxAttempts int) (int, bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok || c.Consumed {
		return 0, false, false, nil
	}
	c.Attempts++
	c.Consumed = c.Attempts >= maxAttempts
	return c.Attempts, c.Consumed, true, nil
}

func (r *memChallengeRepo) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok || c.Consumed {
		return false, nil
	}
	c.Consumed = true
	c.VerifiedAt = &at
	return true, nil
}

func (r *memChallengeRepo) Invalidate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.m[id]; ok {
		c.Consumed = true
	}
	return nil
}

func (r *memChallengeRepo) VerifiedSince(ctx context.Context, phone string, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byPhone(phone) {
		if c.VerifiedAt != nil && !c.VerifiedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

type fakeSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *fakeSender) SendOTP(ctx context.Context, phone, code string, validFor time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[phone] = code
	return nil
}

func (s *fakeSender) last(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *memChallengeRepo, *fakeSender, *clock) {
	t.Helper()
	repo := newMemChallengeRepo()
	sender := &fakeSender{}
	clk := &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	m := NewManager(repo, sender, Config{}, zerolog.Nop())
	m.now = clk.now
	return m, repo, sender, clk
}

func wrongCode(code string) string {
	if code == "0000" {
		return "1111"
	}
	return "0000"
}

func wantKind(t *testing.T, err error, kind apperror.Kind) *apperror.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", kind)
	}
	e, ok := apperror.As(err)
	if !ok || e.Kind != kind {
		t.Fatalf("err = %v, want kind %s", err, kind)
	}
	return e
}

func TestRequestChallenge_Success(t *testing.T) {
	m, _, sender, _ := newTestManager(t)
	issued, err := m.RequestChallenge(context.Background(), "07 01 02 03 04")
	if err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	if issued.Phone != "0701020304" {
		t.Errorf("Phone = %q, want 0701020304", issued.Phone)
	}
	if issued.MaskedPhone != "07******04" {
		t.Errorf("MaskedPhone = %q, want 07******04", issued.MaskedPhone)
	}
	if issued.ExpiresInMinutes != 5 {
		t.Errorf("ExpiresInMinutes = %d, want 5", issued.ExpiresInMinutes)
	}
	if code := sender.last("0701020304"); len(code) != 4 {
		t.Errorf("delivered code = %q, want 4 digits", code)
	}
}

func TestRequestChallenge_InvalidPhone(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.RequestChallenge(context.Background(), "12345")
	wantKind(t, err, apperror.KindInvalidPhone)
}

func TestRequestChallenge_Cooldown(t *testing.T) {
	m, repo, _, clk := newTestManager(t)
	ctx := context.Background()
	if _, err := m.RequestChallenge(ctx, "0701020304"); err != nil {
		t.Fatalf("first RequestChallenge: %v", err)
	}
	first, _ := repo.Latest(ctx, "0701020304")

	clk.advance(20 * time.Second)
	_, err := m.RequestChallenge(ctx, "0701020304")
	e := wantKind(t, err, apperror.KindRateLimited)
	if got := e.RetryAfterSeconds(); got != 40 {
		t.Errorf("RetryAfterSeconds = %d, want 40", got)
	}

	clk.advance(41 * time.Second)
	if _, err := m.RequestChallenge(ctx, "0701020304"); err != nil {
		t.Fatalf("RequestChallenge after cooldown: %v", err)
	}
	repo.mu.Lock()
	superseded := repo.m[first.ID].Consumed
	repo.mu.Unlock()
	if !superseded {
		t.Error("prior challenge should be consumed once a new one is issued")
	}
}

func TestRequestChallenge_DeliveryFailureInvalidates(t *testing.T) {
	m, repo, sender, _ := newTestManager(t)
	sender.err = errors.New("gateway timeout")
	_, err := m.RequestChallenge(context.Background(), "0701020304")
	e := wantKind(t, err, apperror.KindDeliveryFailed)
	if e.PublicCode() != "SMS_SEND_FAILED" {
		t.Errorf("PublicCode = %q, want SMS_SEND_FAILED", e.PublicCode())
	}
	c, _ := repo.Latest(context.Background(), "0701020304")
	if c == nil || !c.Consumed {
		t.Fatal("undelivered challenge must not remain live")
	}
}

func TestVerifyChallenge_SucceedsOnce(t *testing.T) {
	m, _, sender, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.RequestChallenge(ctx, "0701020304"); err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	code := sender.last("0701020304")

	v, err := m.VerifyChallenge(ctx, "0701020304", code)
	if err != nil {
		t.Fatalf("VerifyChallenge: %v", err)
	}
	if v.ValidUntil.Sub(v.VerifiedAt) != 10*time.Minute {
		t.Errorf("verified window = %v, want 10m", v.ValidUntil.Sub(v.VerifiedAt))
	}

	_, err = m.VerifyChallenge(ctx, "0701020304", code)
	wantKind(t, err, apperror.KindOTPInvalid)
}

func TestVerifyChallenge_MaxAttemptsScenario(t *testing.T) {
	m, _, sender, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.RequestChallenge(ctx, "0701020304"); err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	code := sender.last("0701020304")
	bad := wrongCode(code)

	_, err := m.VerifyChallenge(ctx, "0701020304", bad)
	e := wantKind(t, err, apperror.KindOTPInvalid)
	if e.Details["remainingAttempts"] != 2 {
		t.Errorf("remainingAttempts = %v, want 2", e.Details["remainingAttempts"])
	}
	_, err = m.VerifyChallenge(ctx, "0701020304", bad)
	wantKind(t, err, apperror.KindOTPInvalid)
	_, err = m.VerifyChallenge(ctx, "0701020304", bad)
	wantKind(t, err, apperror.KindOTPMaxAttempts)

	_, err = m.VerifyChallenge(ctx, "0701020304", code)
	wantKind(t, err, apperror.KindOTPMaxAttempts)
}

func TestVerifyChallenge_Expired(t *testing.T) {
	m, _, sender, clk := newTestManager(t)
	ctx := context.Background()
	if _, err := m.RequestChallenge(ctx, "0701020304"); err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	clk.advance(5*time.Minute + time.Second)
	_, err := m.VerifyChallenge(ctx, "0701020304", sender.last("0701020304"))
	wantKind(t, err, apperror.KindOTPExpired)
}

func TestVerifyChallenge_NoChallenge(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.VerifyChallenge(context.Background(), "0701020304", "1234")
	wantKind(t, err, apperror.KindOTPInvalid)
}

func TestVerifyChallenge_WrongLength(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.VerifyChallenge(context.Background(), "0701020304", "12345")
	wantKind(t, err, apperror.KindValidation)
}

func TestVerifyChallenge_ConcurrentCorrectCodeWinsOnce(t *testing.T) {
	m, _, sender, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.RequestChallenge(ctx, "0701020304"); err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	code := sender.last("0701020304")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.VerifyChallenge(ctx, "0701020304", code); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("successful verifications = %d, want 1", wins)
	}
}

func TestRequireVerified(t *testing.T) {
	m, _, sender, clk := newTestManager(t)
	ctx := context.Background()

	wantKind(t, m.RequireVerified(ctx, "0701020304"), apperror.KindPhoneNotVerified)

	if _, err := m.RequestChallenge(ctx, "0701020304"); err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	if _, err := m.VerifyChallenge(ctx, "0701020304", sender.last("0701020304")); err != nil {
		t.Fatalf("VerifyChallenge: %v", err)
	}
	if err := m.RequireVerified(ctx, "0701020304"); err != nil {
		t.Fatalf("RequireVerified right after verification: %v", err)
	}

	clk.advance(11 * time.Minute)
	wantKind(t, m.RequireVerified(ctx, "0701020304"), apperror.KindPhoneNotVerified)
}

func TestVerifyChallenge_ConcurrentWrongCodesCountEveryAttempt(t *testing.T) {
	m, repo, sender, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.RequestChallenge(ctx, "0701020304"); err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	code := sender.last("0701020304")
	bad := wrongCode(code)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		remaining []any
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.VerifyChallenge(ctx, "0701020304", bad)
			e, ok := apperror.As(err)
			if !ok {
				t.Errorf("err = %v, want an OTP error", err)
				return
			}
			switch e.Kind {
			case apperror.KindOTPInvalid, apperror.KindOTPMaxAttempts:
			default:
				t.Errorf("kind = %s, want OTP_INVALID or OTP_MAX_ATTEMPTS", e.Kind)
			}
			if r, ok := e.Details["remainingAttempts"]; ok {
				mu.Lock()
				remaining = append(remaining, r)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	c, _ := repo.Latest(ctx, "0701020304")
	if c.Attempts != 3 || !c.Consumed {
		t.Errorf("challenge attempts = %d consumed = %v, want 3 and true", c.Attempts, c.Consumed)
	}
	if len(remaining) != 2 {
		t.Errorf("counted non-final failures = %d (%v), want 2", len(remaining), remaining)
	}
	_, err := m.VerifyChallenge(ctx, "0701020304", code)
	wantKind(t, err, apperror.KindOTPMaxAttempts)
}
