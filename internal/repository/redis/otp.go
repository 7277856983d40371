package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/repository"
)

const (
	fieldCode      = "code"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldAttempts  = "attempts"
)

// incrementIfPresent bumps the attempt counter without resurrecting a consumed challenge.
var incrementIfPresent = red.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
`)

// OTPRepository persists OTP challenges as Redis hashes keyed by purpose and principal.
type OTPRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewOTPRepository constructs a repository whose keys live under keyPrefix.
func NewOTPRepository(client *red.Client, keyPrefix string) *OTPRepository {
	return &OTPRepository{
		client: client,
		prefix: namespace(keyPrefix, "otp"),
		now:    time.Now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (r *OTPRepository) WithClock(clock func() time.Time) *OTPRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Store persists a fresh challenge, resetting attempts.
func (r *OTPRepository) Store(ctx context.Context, purpose string, principal domain.Principal, code string, window, retention time.Duration) (*domain.OTPChallenge, error) {
	code = strings.TrimSpace(code)
	switch {
	case code == "":
		return nil, errors.New("code is required")
	case window <= 0:
		return nil, errors.New("window must be positive")
	case retention < 0:
		return nil, errors.New("retention must not be negative")
	}

	key, err := r.key(purpose, principal)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	expiresAt := now.Add(window)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldCode:      code,
		fieldCreatedAt: strconv.FormatInt(now.UnixMilli(), 10),
		fieldExpiresAt: strconv.FormatInt(expiresAt.UnixMilli(), 10),
		fieldAttempts:  "0",
	})
	pipe.PExpire(ctx, key, window+retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis store otp: %w", err)
	}

	return &domain.OTPChallenge{
		Purpose:   strings.TrimSpace(purpose),
		Principal: principal,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Fetch retrieves the challenge or repository.ErrNotFound.
func (r *OTPRepository) Fetch(ctx context.Context, purpose string, principal domain.Principal) (*domain.OTPChallenge, error) {
	key, err := r.key(purpose, principal)
	if err != nil {
		return nil, err
	}

	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall otp: %w", err)
	}
	code := strings.TrimSpace(values[fieldCode])
	if code == "" {
		return nil, repository.ErrNotFound
	}

	createdAt, err := parseUnixMilli(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := parseUnixMilli(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	attempts, _ := strconv.Atoi(values[fieldAttempts])

	return &domain.OTPChallenge{
		Purpose:   strings.TrimSpace(purpose),
		Principal: principal,
		Code:      code,
		Attempts:  attempts,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IncrementAttempts bumps the failed-attempt counter and returns the new value.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, purpose string, principal domain.Principal) (int, error) {
	key, err := r.key(purpose, principal)
	if err != nil {
		return 0, err
	}

	count, err := incrementIfPresent.Run(ctx, r.client, []string{key}, fieldAttempts).Int()
	if err != nil {
		return 0, fmt.Errorf("redis increment otp attempts: %w", err)
	}
	if count < 0 {
		return 0, repository.ErrNotFound
	}

	return count, nil
}

// Delete removes the challenge. Only one of several concurrent callers succeeds.
func (r *OTPRepository) Delete(ctx context.Context, purpose string, principal domain.Principal) error {
	key, err := r.key(purpose, principal)
	if err != nil {
		return err
	}

	deleted, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis delete otp: %w", err)
	}
	if deleted == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *OTPRepository) key(purpose string, principal domain.Principal) (string, error) {
	purpose = strings.TrimSpace(purpose)
	value := strings.TrimSpace(principal.Value)
	if purpose == "" || principal.Kind == "" || value == "" {
		return "", errors.New("purpose and principal are required")
	}
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, purpose, principal.Kind, value), nil
}

func namespace(prefix, scope string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return scope
	}
	return prefix + ":" + scope
}

func parseUnixMilli(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(v).UTC(), nil
}

var _ port.OTPStore = (*OTPRepository)(nil)
