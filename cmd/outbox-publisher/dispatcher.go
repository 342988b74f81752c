package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type DispatcherParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	Topics     topicSource
	Repository outboxRepository
	DLQ        dlqRepository
	Registry   eventResolver
	Metrics    *metrics.OutboxMetrics

	// publisherFor overrides topic lookup in tests.
	publisherFor func(topic string) publisher
}

// Dispatcher drains outbox_events into Pub/Sub. Rows are claimed with
// SKIP LOCKED so several dispatchers can share the table.
type Dispatcher struct {
	logg         *logger.Logger
	db           dbClient
	topics       topicSource
	repo         outboxRepository
	dlq          dlqRepository
	registry     eventResolver
	metrics      *metrics.OutboxMetrics
	publisherFor func(topic string) publisher
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Topics == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	d := &Dispatcher{
		logg:         params.Logger,
		db:           params.DB,
		topics:       params.Topics,
		repo:         params.Repository,
		dlq:          params.DLQ,
		registry:     params.Registry,
		metrics:      params.Metrics,
		batchSize:    params.Outbox.BatchSize,
		maxAttempts:  params.Outbox.MaxAttempts,
		pollInterval: time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultBatchSize
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	d.publisherFor = params.publisherFor
	if d.publisherFor == nil {
		d.publisherFor = d.topicPublisher
	}
	return d, nil
}

// topicPublisher adapts the client's shared per-topic publisher. The client
// flushes them on Close.
func (d *Dispatcher) topicPublisher(topic string) publisher {
	p := d.topics.Publisher(topic)
	if p == nil {
		return nil
	}
	return gcpPublisher{p}
}

// Run polls until ctx is cancelled. Empty polls wait one interval; failing
// batches back off exponentially up to maxBackoff.
func (d *Dispatcher) Run(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", d.db.Ping},
		{"pubsub", d.topics.Ping},
	} {
		if err := dep.ping(ctx); err != nil {
			d.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	backoff := d.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		handled, err := d.dispatchBatch(ctx)
		switch {
		case err != nil:
			d.logg.Error(ctx, "outbox dispatch batch failed", err)
			backoff = nextBackoff(backoff, d.pollInterval, maxBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		case handled > 0:
			backoff = d.pollInterval
			continue
		}

		backoff = d.pollInterval
		if err := sleep(ctx, withJitter(d.pollInterval)); err != nil {
			return err
		}
	}
}

// dispatchBatch claims up to batchSize rows and settles each one inside the
// same transaction. It returns the number of rows handled.
func (d *Dispatcher) dispatchBatch(ctx context.Context) (int, error) {
	started := time.Now()
	handled := 0
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := d.repo.FetchUnpublishedForPublish(tx, d.batchSize, d.maxAttempts)
		if err != nil {
			return err
		}
		for _, event := range events {
			outcome, err := d.dispatch(ctx, tx, event)
			if err != nil {
				return err
			}
			d.metrics.ObserveEvent(string(event.EventType), outcome)
			handled++
		}
		return nil
	})
	if handled > 0 {
		d.metrics.ObserveBatch(time.Since(started))
	}
	return handled, err
}

// dispatch publishes one row and records the result. A returned error aborts
// the batch; publish failures are settled on the row instead.
func (d *Dispatcher) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (string, error) {
	fields := eventFields(event)

	resolved, err := d.registry.Resolve(event)
	if err != nil {
		return metrics.OutboxDeadLettered, d.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	fields["topic"] = resolved.Descriptor.Topic
	fields["event_id"] = resolved.Envelope.EventID

	err = d.publish(ctx, event, resolved)
	if err == nil {
		if err := d.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		d.logg.Info(d.logg.WithFields(ctx, fields), "outbox event published")
		return metrics.OutboxPublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return metrics.OutboxDeadLettered, d.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}

	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= d.maxAttempts {
		terminal := fmt.Errorf("max publish attempts reached: %w", err)
		return metrics.OutboxDeadLettered, d.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, terminal, fields)
	}

	d.logg.Warn(d.logg.WithField(d.logg.WithFields(ctx, fields), "error", err.Error()), "outbox publish failed, will retry")
	if err := d.repo.MarkFailedTx(tx, event.ID, err); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return metrics.OutboxRetried, nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	d.logg.Warn(d.logg.WithField(d.logg.WithFields(ctx, fields), "error", cause.Error()), "outbox event dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := d.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := d.repo.MarkTerminalTx(tx, event.ID, cause, d.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := d.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved),
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(ctx)
	return err
}

// messageAttributes lets subscribers filter on event and store without
// decoding the payload.
func messageAttributes(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if actor := resolved.Envelope.Actor; actor != nil {
		if actor.StoreID != uuid.Nil {
			attrs["store_id"] = actor.StoreID.String()
		}
		if actor.Source != "" {
			attrs["source"] = actor.Source
		}
	}
	return attrs
}

func eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < max {
		return next
	}
	return max
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
