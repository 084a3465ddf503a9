// Package verification implements the one-time-code exchanges that gate the
// onboarding verification step. Email and phone are verified through
// independent code exchanges; the wizard requires both.
package verification

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/avelinos/onboardly/internal/idgen"
	"github.com/avelinos/onboardly/internal/logging"
	"github.com/avelinos/onboardly/internal/metrics"
)

var (
	ErrCodeNotFound    = errors.New("verification: no code requested for this destination")
	ErrCodeExpired     = errors.New("verification: code expired, request a new one")
	ErrCodeMismatch    = errors.New("verification: incorrect code")
	ErrTooManyAttempts = errors.New("verification: too many attempts, request a new code")
	ErrInvalidChannel  = errors.New("verification: unknown verification channel")
)

// Channel identifies which contact detail a code verifies.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// ValidChannel returns true if the channel is recognised.
func ValidChannel(c Channel) bool {
	return c == ChannelEmail || c == ChannelPhone
}

// Code is a stored one-time code. Only the hash is persisted.
type Code struct {
	Channel     Channel   `json:"channel"`
	Destination string    `json:"destination"`
	CodeHash    string    `json:"-"`
	Attempts    int       `json:"attempts"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists one-time codes, keyed by (channel, destination).
type Store interface {
	Put(ctx context.Context, c *Code) error
	Get(ctx context.Context, channel Channel, destination string) (*Code, error)
	IncrementAttempts(ctx context.Context, channel Channel, destination string) (int, error)
	Delete(ctx context.Context, channel Channel, destination string) error
}

// Sender delivers a code to its destination.
type Sender interface {
	Send(ctx context.Context, channel Channel, destination, code string) error
}

// LogSender logs codes instead of delivering them. Development only.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, channel Channel, destination, code string) error {
	logging.L(ctx).Info("one-time code issued (dev sender)",
		"channel", string(channel), "destination", destination, "code", code)
	return nil
}

// Service issues and verifies one-time codes.
type Service struct {
	store       Store
	sender      Sender
	ttl         time.Duration
	maxAttempts int
}

// NewService creates a verification service.
func NewService(store Store, sender Sender, ttl time.Duration, maxAttempts int) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{store: store, sender: sender, ttl: ttl, maxAttempts: maxAttempts}
}

// Request issues a fresh six-digit code for the destination, replacing any
// outstanding one.
func (s *Service) Request(ctx context.Context, channel Channel, destination string) error {
	if !ValidChannel(channel) {
		return ErrInvalidChannel
	}

	code := idgen.Digits(6)
	now := time.Now()
	rec := &Code{
		Channel:     channel,
		Destination: destination,
		CodeHash:    hashCode(code),
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	if err := s.sender.Send(ctx, channel, destination, code); err != nil {
		return fmt.Errorf("failed to send verification code: %w", err)
	}

	metrics.OTPRequestsTotal.WithLabelValues(string(channel)).Inc()
	return nil
}

// Verify checks a submitted code. Codes are single-use: a successful
// verification consumes the stored code.
func (s *Service) Verify(ctx context.Context, channel Channel, destination, code string) error {
	if !ValidChannel(channel) {
		return ErrInvalidChannel
	}

	rec, err := s.store.Get(ctx, channel, destination)
	if err != nil {
		return err
	}
	if time.Now().After(rec.ExpiresAt) {
		_ = s.store.Delete(ctx, channel, destination)
		s.countVerify(channel, "expired")
		return ErrCodeExpired
	}

	attempts, err := s.store.IncrementAttempts(ctx, channel, destination)
	if err != nil {
		return err
	}
	if attempts > s.maxAttempts {
		_ = s.store.Delete(ctx, channel, destination)
		s.countVerify(channel, "locked")
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(rec.CodeHash), []byte(hashCode(code))) != 1 {
		s.countVerify(channel, "mismatch")
		return ErrCodeMismatch
	}

	if err := s.store.Delete(ctx, channel, destination); err != nil {
		return err
	}
	s.countVerify(channel, "ok")
	return nil
}

func (s *Service) countVerify(channel Channel, result string) {
	metrics.OTPVerificationsTotal.WithLabelValues(string(channel), result).Inc()
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
