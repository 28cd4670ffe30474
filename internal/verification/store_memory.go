package verification

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"certreg/pkg/platform/sentinel"
)

type otpRecord struct {
	code      string
	expiresAt time.Time
}

type tokenRecord struct {
	phoneNumber string
	expiresAt   time.Time
}

// InMemoryStore backs tests and single-process dev. The clock is injectable
// so expiry is testable without sleeping.
type InMemoryStore struct {
	mu     sync.Mutex
	otps   map[string]otpRecord
	tokens map[string]tokenRecord
	now    func() time.Time
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) { s.now = now }
}

func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		otps:   make(map[string]otpRecord),
		tokens: make(map[string]tokenRecord),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveOTP stores the code, replacing any pending code for the phone number.
func (s *InMemoryStore) SaveOTP(_ context.Context, phoneNumber, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otps[phoneNumber] = otpRecord{code: code, expiresAt: s.now().Add(ttl)}
	return nil
}

// ConsumeOTP validates and deletes the pending code. A mismatched code does
// not consume the pending one, so a typo doesn't force a resend.
func (s *InMemoryStore) ConsumeOTP(_ context.Context, phoneNumber, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.otps[phoneNumber]
	if !ok {
		return fmt.Errorf("otp for %q: %w", phoneNumber, sentinel.ErrNotFound)
	}
	if s.now().After(rec.expiresAt) {
		delete(s.otps, phoneNumber)
		return fmt.Errorf("otp for %q: %w", phoneNumber, sentinel.ErrExpired)
	}
	if subtle.ConstantTimeCompare([]byte(rec.code), []byte(code)) != 1 {
		return fmt.Errorf("otp for %q: %w", phoneNumber, sentinel.ErrInvalidState)
	}
	delete(s.otps, phoneNumber)
	return nil
}

func (s *InMemoryStore) SaveToken(_ context.Context, token, phoneNumber string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = tokenRecord{phoneNumber: phoneNumber, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) LookupToken(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return "", fmt.Errorf("verification token: %w", sentinel.ErrNotFound)
	}
	if s.now().After(rec.expiresAt) {
		delete(s.tokens, token)
		return "", fmt.Errorf("verification token: %w", sentinel.ErrNotFound)
	}
	return rec.phoneNumber, nil
}
