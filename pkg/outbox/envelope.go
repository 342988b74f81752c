package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const envelopeVersion = 1

// Actor sources.
const (
	SourceAPI    = "api"
	SourceWorker = "worker"
	SourceCLI    = "cli"
)

// ActorRef names the store and, when known, the user behind an event.
type ActorRef struct {
	StoreID uuid.UUID  `json:"storeId"`
	UserID  *uuid.UUID `json:"userId,omitempty"`
	Source  string     `json:"source,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload. Consumers
// switch on Version before reading Data.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// seal encodes event into a fresh envelope stamped at now unless the event
// carries its own time.
func seal(event DomainEvent, now time.Time) (PayloadEnvelope, []byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	env := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version == 0 {
		env.Version = envelopeVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = now
	}
	env.OccurredAt = env.OccurredAt.UTC()

	raw, err := json.Marshal(env)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("encode %s envelope: %w", event.EventType, err)
	}
	return env, raw, nil
}
