package orchestrator

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/idempotency"
)

// ChannelIDHeader pins a webhook to a channel when the store header is ambiguous.
const ChannelIDHeader = "X-Channel-Id"

const webhookConsumer = "channel-webhooks"

// WebhookResult is what the HTTP layer acknowledges.
type WebhookResult struct {
	LogID     uuid.UUID              `json:"log_id"`
	ChannelID *uuid.UUID             `json:"channel_id,omitempty"`
	Status    enums.WebhookStatus    `json:"status"`
	EventType enums.WebhookEventType `json:"event_type,omitempty"`
	Conflicts int                    `json:"conflicts,omitempty"`
}

// HandleWebhook logs the delivery, authenticates it against the channel
// secret and applies the normalized event. Deliveries whose event id was
// already processed are acknowledged as duplicates without side effects.
func (s *Service) HandleWebhook(ctx context.Context, rawType string, payload []byte, headers http.Header) (*WebhookResult, error) {
	channelType := enums.ChannelType(strings.ToLower(strings.TrimSpace(rawType)))
	ctx = s.logg.WithField(ctx, "channel_type", string(channelType))

	entry := &models.WebhookLog{
		ChannelType: channelType,
		Headers:     datatypes.NewJSONType(flattenHeaders(headers)),
		Payload:     payload,
		Status:      enums.WebhookStatusReceived,
		ReceivedAt:  s.now(),
	}
	if err := s.repo.CreateWebhookLog(ctx, entry); err != nil {
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "webhook_log_id", entry.ID.String())
	result := &WebhookResult{LogID: entry.ID}

	def, err := s.registry.Lookup(channelType)
	if err != nil {
		return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusFailed, err)
	}
	channel, err := s.resolveWebhookChannel(ctx, def, headers)
	if err != nil {
		return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusFailed, err)
	}
	entry.ChannelID = &channel.ID
	result.ChannelID = &channel.ID
	ctx = s.logg.WithStoreID(ctx, channel.StoreID.String())
	ctx = s.logg.WithChannelID(ctx, channel.ID.String())

	conn, err := s.connectorFor(ctx, *channel)
	if err != nil {
		return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusFailed, err)
	}
	secret := ""
	if channel.WebhookSecret != nil {
		secret = *channel.WebhookSecret
	}
	signature := headers.Get(def.SignatureHeader)
	if secret == "" || !conn.ValidateWebhookSignature(payload, signature, secret) {
		err := pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
		return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusInvalidSignature, err)
	}
	entry.SignatureValid = true

	event, err := conn.ProcessWebhook(ctx, payload)
	if err != nil {
		return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusFailed, err)
	}
	result.EventType = event.Type
	topic := string(event.Type)
	entry.Topic = &topic
	if event.OrderID != "" {
		orderID := event.OrderID
		entry.OrderID = &orderID
	}
	eventID := event.ExternalEventID
	if def.EventIDHeader != "" {
		if v := strings.TrimSpace(headers.Get(def.EventIDHeader)); v != "" {
			eventID = v
		}
	}
	if eventID != "" {
		entry.ExternalEventID = &eventID
		ctx = s.logg.WithField(ctx, "event_id", eventID)
	}

	var claim *idempotency.Claim
	if eventID != "" {
		seen, err := s.repo.EventProcessed(ctx, channel.ID, eventID)
		if err != nil {
			return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusFailed, err)
		}
		if !seen && s.idem != nil {
			held, err := s.idem.Claim(ctx, webhookConsumer, channel.ID.String()+":"+eventID)
			if err != nil {
				s.logg.Warn(ctx, "webhook idempotency check failed: "+err.Error())
			} else {
				seen, claim = held == nil, held
			}
		}
		if seen {
			return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusDuplicate, nil)
		}
	}

	recorded, err := s.dispatch(ctx, *channel, event)
	result.Conflicts = recorded
	if err != nil {
		if relErr := claim.Release(ctx); relErr != nil {
			s.logg.Warn(ctx, "failed to release webhook claim: "+relErr.Error())
		}
		return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusFailed, err)
	}
	return result, s.finishWebhook(ctx, entry, result, enums.WebhookStatusProcessed, nil)
}

// finishWebhook stores the final state of the log row and returns cause.
func (s *Service) finishWebhook(ctx context.Context, entry *models.WebhookLog, result *WebhookResult, status enums.WebhookStatus, cause error) error {
	entry.Status = status
	result.Status = status
	if cause != nil {
		msg, _ := describe(cause)
		entry.Error = &msg
	}
	if status == enums.WebhookStatusProcessed || status == enums.WebhookStatusDuplicate {
		now := s.now()
		entry.ProcessedAt = &now
	}
	s.metrics.IncWebhook(string(entry.ChannelType), string(status))

	if err := s.repo.UpdateWebhookLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logg.Error(ctx, "failed to update webhook log", err)
	}
	switch status {
	case enums.WebhookStatusProcessed:
		s.logg.Info(ctx, "webhook processed")
	case enums.WebhookStatusDuplicate:
		s.logg.Info(ctx, "duplicate webhook acknowledged")
	default:
		s.logg.Warn(s.logg.WithField(ctx, "status", string(status)), "webhook rejected")
	}
	return cause
}

func (s *Service) resolveWebhookChannel(ctx context.Context, def connectors.Definition, headers http.Header) (*models.Channel, error) {
	if raw := strings.TrimSpace(headers.Get(ChannelIDHeader)); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid channel id header")
		}
		return s.repo.FindActiveChannel(ctx, def.Type, id)
	}
	ref := strings.TrimSpace(headers.Get(def.StoreHeader))
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook does not identify its channel").
			WithDetails(map[string]any{"header": def.StoreHeader})
	}
	return s.repo.FindChannelByRef(ctx, def.Type, ref)
}

// dispatch applies a normalized event. It returns how many conflicts the
// event raised.
func (s *Service) dispatch(ctx context.Context, channel models.Channel, event *connectors.WebhookEvent) (int, error) {
	switch event.Type {
	case enums.WebhookEventInventoryUpdate, enums.WebhookEventProductUpdate:
		return s.applyLevels(ctx, channel, event.Levels)
	case enums.WebhookEventOrderCreated:
		return s.applyOrderCreated(ctx, channel, event)
	case enums.WebhookEventOrderCancelled:
		return 0, s.applyOrderLines(ctx, channel, event, s.allocator.Release)
	case enums.WebhookEventOrderFulfilled:
		return 0, s.applyOrderLines(ctx, channel, event, s.allocator.Confirm)
	default:
		s.logg.Debug(ctx, "ignoring webhook event")
		return 0, nil
	}
}

func (s *Service) applyLevels(ctx context.Context, channel models.Channel, levels []connectors.ChannelLevel) (int, error) {
	touched, err := s.repo.SaveChannelLevels(ctx, channel.ID, levels, s.now())
	if err != nil {
		return 0, err
	}
	recorded := 0
	for _, productID := range touched {
		found, err := s.conflicts.DetectForProduct(ctx, productID)
		if err != nil {
			s.logg.Error(s.logg.WithProductID(ctx, productID.String()), "conflict detection after webhook failed", err)
			continue
		}
		recorded += len(found)
	}
	return recorded, nil
}

type orderLine struct {
	productID uuid.UUID
	quantity  int
}

// orderLines maps the event lines to local products. Unmapped listings are
// skipped; they belong to products the store does not track.
func (s *Service) orderLines(ctx context.Context, channel models.Channel, event *connectors.WebhookEvent) ([]orderLine, error) {
	lines := make([]orderLine, 0, len(event.Lines))
	for _, line := range event.Lines {
		mapping, err := s.repo.FindMapping(ctx, channel.ID, line.ExternalProductID)
		if err != nil {
			return nil, err
		}
		if mapping == nil {
			s.logg.Warn(s.logg.WithField(ctx, "external_product_id", line.ExternalProductID), "order line for unmapped listing skipped")
			continue
		}
		lines = append(lines, orderLine{productID: mapping.ProductID, quantity: line.Quantity})
	}
	return lines, nil
}

// applyOrderCreated reserves every line. A second creation of the same order
// on the channel is recorded as a duplicate sale instead of reserving again.
// Reservations taken before a failing line are released.
func (s *Service) applyOrderCreated(ctx context.Context, channel models.Channel, event *connectors.WebhookEvent) (int, error) {
	lines, err := s.orderLines(ctx, channel, event)
	if err != nil {
		return 0, err
	}
	seen, err := s.repo.OrderSeen(ctx, channel.ID, event.OrderID)
	if err != nil {
		return 0, err
	}
	if seen {
		return s.recordDuplicateSale(ctx, channel, event, lines)
	}

	reserved := make([]allocation.StockMovement, 0, len(lines))
	for _, line := range lines {
		m := allocation.StockMovement{ProductID: line.productID, ChannelID: channel.ID, Quantity: line.quantity, OrderID: event.OrderID}
		if err := s.allocator.Reserve(ctx, m); err != nil {
			for _, done := range reserved {
				if relErr := s.allocator.Release(ctx, done); relErr != nil {
					s.logg.Error(s.logg.WithProductID(ctx, done.ProductID.String()), "failed to roll back reservation", relErr)
				}
			}
			return 0, err
		}
		reserved = append(reserved, m)
	}
	return 0, nil
}

func (s *Service) recordDuplicateSale(ctx context.Context, channel models.Channel, event *connectors.WebhookEvent, lines []orderLine) (int, error) {
	ctx = s.logg.WithField(ctx, "order_id", event.OrderID)
	s.logg.Warn(ctx, "order created twice on channel")
	channelID := channel.ID
	reportedAt := event.OccurredAt
	if reportedAt.IsZero() {
		reportedAt = s.now()
	}
	recorded := 0
	for _, line := range lines {
		_, err := s.conflicts.Record(ctx, conflicts.RecordInput{
			StoreID:    channel.StoreID,
			ProductID:  line.productID,
			ChannelID:  &channelID,
			Type:       enums.ConflictTypeDuplicateSale,
			Priority:   enums.ConflictPriorityHigh,
			LocalValue: float64(line.quantity),
			Values: []models.ReportedValue{{
				ChannelID:   &channelID,
				ChannelType: channel.Type,
				Value:       float64(line.quantity),
				ReportedAt:  reportedAt,
			}},
		})
		if err != nil {
			return recorded, err
		}
		recorded++
	}
	return recorded, nil
}

func (s *Service) applyOrderLines(ctx context.Context, channel models.Channel, event *connectors.WebhookEvent, apply func(context.Context, allocation.StockMovement) error) error {
	lines, err := s.orderLines(ctx, channel, event)
	if err != nil {
		return err
	}
	for _, line := range lines {
		err := apply(ctx, allocation.StockMovement{
			ProductID: line.productID,
			ChannelID: channel.ID,
			Quantity:  line.quantity,
			OrderID:   event.OrderID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			out[http.CanonicalHeaderKey(key)] = values[0]
		}
	}
	return out
}
