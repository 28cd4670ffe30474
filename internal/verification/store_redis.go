package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certreg/pkg/platform/sentinel"
)

const (
	otpKeyPrefix   = "verify:otp:"
	tokenKeyPrefix = "verify:token:"
)

// consumeOTPScript checks and deletes the pending code in one server-side
// step, so two concurrent verifies cannot both consume it. A mismatch keeps
// the code pending.
var consumeOTPScript = redis.NewScript(`
local code = redis.call("GET", KEYS[1])
if not code then
	return -1
end
if code ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// RedisStore is the production implementation for multi-instance
// deployments, where the instance that sent the code may not be the one
// that verifies it. TTLs are enforced by Redis key expiry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SaveOTP(ctx context.Context, phoneNumber, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, otpKeyPrefix+phoneNumber, code, ttl).Err(); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

func (s *RedisStore) ConsumeOTP(ctx context.Context, phoneNumber, code string) error {
	res, err := consumeOTPScript.Run(ctx, s.client, []string{otpKeyPrefix + phoneNumber}, code).Int()
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	switch res {
	case -1:
		// Expired keys are evicted by Redis, so absence covers both the
		// never-sent and the lapsed case.
		return fmt.Errorf("otp for %q: %w", phoneNumber, sentinel.ErrExpired)
	case 0:
		return fmt.Errorf("otp for %q: %w", phoneNumber, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *RedisStore) SaveToken(ctx context.Context, token, phoneNumber string, ttl time.Duration) error {
	if err := s.client.Set(ctx, tokenKeyPrefix+token, phoneNumber, ttl).Err(); err != nil {
		return fmt.Errorf("save verification token: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupToken(ctx context.Context, token string) (string, error) {
	phoneNumber, err := s.client.Get(ctx, tokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("verification token: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load verification token: %w", err)
	}
	return phoneNumber, nil
}
