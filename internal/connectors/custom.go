package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// The custom dialect is the canonical wire format for store-built channels:
// payloads mirror SyncRequest, SyncResponse and WebhookEvent directly.
var customDialect = dialect{
	channelType: enums.ChannelTypeCustom,
	baseURL: func(c Credentials) (string, error) {
		base := strings.TrimSpace(c.BaseURL)
		if base == "" {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "custom channel base_url is required")
		}
		return base, nil
	},
	headers: func(c Credentials) (http.Header, error) {
		h := http.Header{}
		if c.APIKey != "" {
			h.Set("X-Api-Key", c.APIKey)
		}
		if c.AccessToken != "" {
			h.Set("Authorization", "Bearer "+c.AccessToken)
		}
		if len(h) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "custom channel api_key or access_token is required")
		}
		return h, nil
	},
	healthPath: "health",
	encoding:   encodingHex,
	push:       customPush,
	fetch:      customFetch,
	parse:      customParse,
}

func customPush(ctx context.Context, c *httpClient, _ Credentials, req SyncRequest) (*SyncResponse, error) {
	var resp SyncResponse
	if err := c.do(ctx, http.MethodPost, "inventory", nil, req, &resp); err != nil {
		return nil, err
	}
	if resp.TotalProcessed == 0 {
		resp.TotalProcessed = resp.Successful + resp.Failed
	}
	return &resp, nil
}

type customLevel struct {
	ExternalProductID string           `json:"external_product_id"`
	Stock             *int             `json:"stock"`
	Price             *decimal.Decimal `json:"price"`
}

func (l customLevel) level() ChannelLevel {
	out := ChannelLevel{ExternalProductID: l.ExternalProductID, Stock: l.Stock}
	if l.Price != nil {
		out.Price = decimal.NewNullDecimal(*l.Price)
	}
	return out
}

func customFetch(ctx context.Context, c *httpClient, _ Credentials, ids []string) ([]ChannelLevel, error) {
	var resp struct {
		Levels []customLevel `json:"levels"`
	}
	if err := c.do(ctx, http.MethodPost, "inventory/query", nil, map[string]any{"external_ids": ids}, &resp); err != nil {
		return nil, err
	}
	levels := make([]ChannelLevel, 0, len(resp.Levels))
	for _, l := range resp.Levels {
		levels = append(levels, l.level())
	}
	return levels, nil
}

func customParse(payload []byte) (*WebhookEvent, error) {
	var w struct {
		EventID    string                 `json:"event_id"`
		Type       enums.WebhookEventType `json:"type"`
		OrderID    string                 `json:"order_id"`
		OccurredAt time.Time              `json:"occurred_at"`
		Lines      []OrderLine            `json:"lines"`
		Levels     []customLevel          `json:"levels"`
	}
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	if w.EventID == "" {
		return nil, errors.New("event_id missing")
	}
	event := &WebhookEvent{
		Type:            w.Type,
		ExternalEventID: w.EventID,
		OrderID:         w.OrderID,
		Lines:           w.Lines,
		OccurredAt:      w.OccurredAt.UTC(),
	}
	switch w.Type {
	case enums.WebhookEventInventoryUpdate:
		for _, l := range w.Levels {
			event.Levels = append(event.Levels, l.level())
		}
	case enums.WebhookEventOrderCreated, enums.WebhookEventOrderCancelled, enums.WebhookEventOrderFulfilled:
		if w.OrderID == "" {
			return nil, errors.New("order_id missing")
		}
	default:
		event.Type = enums.WebhookEventUnknown
	}
	return event, nil
}
