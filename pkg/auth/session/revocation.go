// Package session tracks operator tokens that were revoked before expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

type revocationStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

type revocationKeyer interface {
	RevocationKey(tokenID string) string
}

// RevocationChecker is the read side used by the auth middleware.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Revocations is a Redis denylist keyed by JWT id. Entries expire with the
// token they block.
type Revocations struct {
	store revocationStore
	keyer revocationKeyer
	ttl   time.Duration
}

// Store is satisfied by *redis.Client from pkg/redis.
type Store interface {
	revocationStore
	revocationKeyer
}

func NewRevocations(store Store, tokenTTL time.Duration) (*Revocations, error) {
	if store == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if tokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &Revocations{store: store, keyer: store, ttl: tokenTTL}, nil
}

// Revoke blocks the token id for the remaining token lifetime.
func (r *Revocations) Revoke(ctx context.Context, tokenID string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return fmt.Errorf("token id is required")
	}
	return r.store.Set(ctx, r.keyer.RevocationKey(tokenID), "1", r.ttl)
}

func (r *Revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return false, fmt.Errorf("token id is required")
	}
	if _, err := r.store.Get(ctx, r.keyer.RevocationKey(tokenID)); err != nil {
		if errors.Is(err, redislib.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
