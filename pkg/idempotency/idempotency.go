// Package idempotency deduplicates externally delivered events. A delivery
// claims its event id in Redis; redeliveries find the claim and are
// acknowledged without repeating side effects.
package idempotency

import (
	"context"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/redis"
)

// Guard hands out claims that live for ttl. Keys take the form
// cs:idempotency:evt:<consumer>:<event_id>.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// Claim is a held event id.
type Claim struct {
	store redis.IdempotencyStore
	key   string
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	switch {
	case store == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency store is required")
	case ttl < 0:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl, now: time.Now}, nil
}

// Claim takes eventID for consumer. It returns a nil claim when an earlier
// delivery already holds it.
func (g *Guard) Claim(ctx context.Context, consumer, eventID string) (*Claim, error) {
	consumer = strings.TrimSpace(consumer)
	eventID = strings.TrimSpace(eventID)
	if consumer == "" || eventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "consumer and event id are required")
	}

	key := g.store.IdempotencyKey("evt:"+consumer, eventID)
	fresh, err := g.store.SetNX(ctx, key, g.now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim event id")
	}
	if !fresh {
		return nil, nil
	}
	return &Claim{store: g.store, key: key}, nil
}

// Release gives the id back so the sender's retry is processed again.
// Releasing a nil claim is a no-op.
func (c *Claim) Release(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.store.Del(ctx, c.key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release event id")
	}
	return nil
}
