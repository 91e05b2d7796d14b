package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/apmatch-backend/pkg/redis"
)

// ClaimState is what a delivery finds when it tries to claim an event id.
type ClaimState int

const (
	// ClaimAcquired means this delivery owns the event and must finish it
	// with Complete or Release.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another delivery is processing the event now.
	ClaimInFlight
	// ClaimDone means the event was already applied.
	ClaimDone
)

const (
	markProcessing = "processing"
	markDone       = "done"

	defaultProcessingTTL = 5 * time.Minute
)

type dedupStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// EventDedup records which Stripe event ids have been applied. A claim
// expires after processingTTL so a worker that dies mid-event does not hide
// the event from Stripe's next retry.
type EventDedup struct {
	store         dedupStore
	scope         string
	doneTTL       time.Duration
	processingTTL time.Duration
}

func NewEventDedup(store dedupStore, scope string, doneTTL time.Duration) (*EventDedup, error) {
	if store == nil {
		return nil, errors.New("dedup store is required")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("dedup scope is required")
	}
	if doneTTL <= 0 {
		return nil, errors.New("dedup ttl must be positive")
	}
	return &EventDedup{store: store, scope: scope, doneTTL: doneTTL, processingTTL: defaultProcessingTTL}, nil
}

func (d *EventDedup) key(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return d.store.IdempotencyKey(d.scope, eventID), nil
}

// Claim marks eventID as in progress unless some delivery already did.
func (d *EventDedup) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	key, err := d.key(eventID)
	if err != nil {
		return 0, err
	}
	ok, err := d.store.SetNX(ctx, key, markProcessing, d.processingTTL)
	if err != nil {
		return 0, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if ok {
		return ClaimAcquired, nil
	}
	mark, err := d.store.Get(ctx, key)
	switch {
	case redis.IsNil(err):
		// the other claim was released in between; let Stripe retry
		return ClaimInFlight, nil
	case err != nil:
		return 0, fmt.Errorf("read event mark %s: %w", eventID, err)
	case mark == markDone:
		return ClaimDone, nil
	default:
		return ClaimInFlight, nil
	}
}

// Complete turns a claim into a long-lived done mark.
func (d *EventDedup) Complete(ctx context.Context, eventID string) error {
	key, err := d.key(eventID)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, key, markDone, d.doneTTL)
}

// Release drops a claim so a redelivery can process the event again.
func (d *EventDedup) Release(ctx context.Context, eventID string) error {
	key, err := d.key(eventID)
	if err != nil {
		return err
	}
	return d.store.Del(ctx, key)
}
