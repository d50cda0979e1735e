package repository

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// OTP verification failures.
var (
	ErrOTPNotFound         = errors.New("otp not found or expired")
	ErrOTPMismatch         = errors.New("otp mismatch")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
)

// OTPRepository keeps e-mail verification codes in Redis with a TTL.
type OTPRepository struct {
	client *redis.Client
}

// NewOTPRepository constructs the repository.
func NewOTPRepository(client *redis.Client) *OTPRepository {
	return &OTPRepository{client: client}
}

func otpKey(email string) string {
	return "otp:" + strings.ToLower(strings.TrimSpace(email))
}

// Save stores code for email, replacing any previous code and resetting attempts.
func (r *OTPRepository) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	key := otpKey(email)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "code", code, "attempts", 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

// Verify checks code against the stored value. Every call counts as an
// attempt; once maxAttempts is exceeded the code is discarded. A correct code
// is consumed.
func (r *OTPRepository) Verify(ctx context.Context, email, code string, maxAttempts int) error {
	key := otpKey(email)
	stored, err := r.client.HGet(ctx, key, "code").Result()
	if errors.Is(err, redis.Nil) {
		return ErrOTPNotFound
	}
	if err != nil {
		return fmt.Errorf("read otp: %w", err)
	}

	attempts, err := r.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return fmt.Errorf("count otp attempt: %w", err)
	}
	if maxAttempts > 0 && attempts > int64(maxAttempts) {
		_ = r.client.Del(ctx, key).Err()
		return ErrOTPAttemptsExceeded
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrOTPMismatch
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	return nil
}
