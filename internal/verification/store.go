// Package verification implements the public certificate check: a one-time
// code sent to the requester's phone, exchanged for a short-lived
// verification token, which unlocks redacted certificate lookups.
package verification

import (
	"context"
	"time"
)

// Store keeps the two ephemeral artifacts of the flow. One-time codes are
// single-use and keyed by the phone number they were sent to; verification
// tokens are multi-use within their window and map back to the phone number
// they were issued for.
//
// Error contract: ConsumeOTP returns sentinel.ErrNotFound when no code is
// pending for the phone number, sentinel.ErrExpired when it lapsed, and
// sentinel.ErrInvalidState on a code mismatch. LookupToken returns
// sentinel.ErrNotFound for unknown or expired tokens.
type Store interface {
	SaveOTP(ctx context.Context, phoneNumber, code string, ttl time.Duration) error
	ConsumeOTP(ctx context.Context, phoneNumber, code string) error
	SaveToken(ctx context.Context, token, phoneNumber string, ttl time.Duration) error
	LookupToken(ctx context.Context, token string) (string, error)
}
