package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
)

// ResendGuardRepository stores one marker per principal with SET NX PX.
type ResendGuardRepository struct {
	client *red.Client
	prefix string
}

// NewResendGuardRepository constructs the cool-down store.
func NewResendGuardRepository(client *red.Client, keyPrefix string) *ResendGuardRepository {
	return &ResendGuardRepository{client: client, prefix: namespace(keyPrefix, "otp_cooldown")}
}

// Acquire places the marker when none exists. A non-positive interval always succeeds.
func (r *ResendGuardRepository) Acquire(ctx context.Context, principal domain.Principal, interval time.Duration) (bool, time.Duration, error) {
	if interval <= 0 {
		return true, 0, nil
	}

	key, err := r.key(principal)
	if err != nil {
		return false, 0, err
	}

	ok, err := r.client.SetNX(ctx, key, "1", interval).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis setnx cooldown: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	remaining, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis pttl cooldown: %w", err)
	}
	if remaining < 0 {
		remaining = interval
	}
	return false, remaining, nil
}

// Release clears the marker so the next dispatch is not blocked.
func (r *ResendGuardRepository) Release(ctx context.Context, principal domain.Principal) error {
	key, err := r.key(principal)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete cooldown: %w", err)
	}
	return nil
}

func (r *ResendGuardRepository) key(principal domain.Principal) (string, error) {
	value := strings.TrimSpace(principal.Value)
	if principal.Kind == "" || value == "" {
		return "", errors.New("principal is required")
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, principal.Kind, value), nil
}

var _ port.ResendGuard = (*ResendGuardRepository)(nil)
