package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

const shopifyAPIVersion = "2024-10"

var shopifyDialect = dialect{
	channelType: enums.ChannelTypeShopify,
	baseURL: func(c Credentials) (string, error) {
		if c.BaseURL != "" {
			return c.BaseURL, nil
		}
		shop := strings.TrimSpace(c.ShopDomain)
		if shop == "" {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "shopify shop_domain is required")
		}
		return fmt.Sprintf("https://%s/admin/api/%s", shop, shopifyAPIVersion), nil
	},
	headers: func(c Credentials) (http.Header, error) {
		if strings.TrimSpace(c.AccessToken) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shopify access_token is required")
		}
		h := http.Header{}
		h.Set("X-Shopify-Access-Token", c.AccessToken)
		return h, nil
	},
	healthPath: "shop.json",
	encoding:   encodingBase64,
	push:       shopifyPush,
	fetch:      shopifyFetch,
	parse:      shopifyParse,
}

// shopifyPush sets the available level of each inventory item at the
// configured location. Shopify has no batch endpoint for this.
func shopifyPush(ctx context.Context, c *httpClient, creds Credentials, req SyncRequest) (*SyncResponse, error) {
	if creds.LocationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shopify location_id is required")
	}
	var t tally
	for _, u := range req.Updates {
		if u.ExternalProductID == "" {
			t.fail("missing inventory item id for " + u.SKU)
			continue
		}
		body := map[string]any{
			"location_id":       json.Number(creds.LocationID),
			"inventory_item_id": json.Number(u.ExternalProductID),
			"available":         u.Quantity,
		}
		if err := t.record(c.do(ctx, http.MethodPost, "inventory_levels/set.json", nil, body, nil)); err != nil {
			return nil, err
		}
	}
	return t.result(), nil
}

func shopifyFetch(ctx context.Context, c *httpClient, creds Credentials, ids []string) ([]ChannelLevel, error) {
	params := url.Values{}
	params.Set("inventory_item_ids", strings.Join(ids, ","))
	if creds.LocationID != "" {
		params.Set("location_ids", creds.LocationID)
	}
	var resp struct {
		Levels []struct {
			InventoryItemID json.Number `json:"inventory_item_id"`
			Available       *int        `json:"available"`
		} `json:"inventory_levels"`
	}
	if err := c.do(ctx, http.MethodGet, "inventory_levels.json", params, nil, &resp); err != nil {
		return nil, err
	}
	levels := make([]ChannelLevel, 0, len(resp.Levels))
	for _, l := range resp.Levels {
		levels = append(levels, ChannelLevel{ExternalProductID: l.InventoryItemID.String(), Stock: l.Available})
	}
	return levels, nil
}

type shopifyWebhook struct {
	ID                json.Number `json:"id"`
	InventoryItemID   json.Number `json:"inventory_item_id"`
	Available         *int        `json:"available"`
	UpdatedAt         *time.Time  `json:"updated_at"`
	CreatedAt         *time.Time  `json:"created_at"`
	CancelledAt       *time.Time  `json:"cancelled_at"`
	FulfillmentStatus *string     `json:"fulfillment_status"`
	LineItems         []struct {
		VariantID json.Number `json:"variant_id"`
		SKU       string      `json:"sku"`
		Quantity  int         `json:"quantity"`
	} `json:"line_items"`
	Variants []struct {
		InventoryItemID   json.Number `json:"inventory_item_id"`
		InventoryQuantity *int        `json:"inventory_quantity"`
		Price             string      `json:"price"`
	} `json:"variants"`
}

// shopifyParse recognises inventory level, order and product payloads by
// shape since the topic travels in a header.
func shopifyParse(payload []byte) (*WebhookEvent, error) {
	var w shopifyWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	switch {
	case w.InventoryItemID != "":
		at := derefTime(w.UpdatedAt)
		return &WebhookEvent{
			Type:            enums.WebhookEventInventoryUpdate,
			ExternalEventID: fmt.Sprintf("inventory:%s:%d", w.InventoryItemID, at.Unix()),
			Levels:          []ChannelLevel{{ExternalProductID: w.InventoryItemID.String(), Stock: w.Available}},
			OccurredAt:      at,
		}, nil
	case len(w.LineItems) > 0:
		if w.ID == "" {
			return nil, errors.New("order id missing")
		}
		kind := enums.WebhookEventOrderCreated
		switch {
		case w.CancelledAt != nil:
			kind = enums.WebhookEventOrderCancelled
		case w.FulfillmentStatus != nil && *w.FulfillmentStatus == "fulfilled":
			kind = enums.WebhookEventOrderFulfilled
		}
		lines := make([]OrderLine, 0, len(w.LineItems))
		for _, li := range w.LineItems {
			lines = append(lines, OrderLine{ExternalProductID: li.VariantID.String(), SKU: li.SKU, Quantity: li.Quantity})
		}
		return &WebhookEvent{
			Type:            kind,
			ExternalEventID: fmt.Sprintf("order:%s:%s", w.ID, kind),
			OrderID:         w.ID.String(),
			Lines:           lines,
			OccurredAt:      firstTime(w.CancelledAt, w.UpdatedAt, w.CreatedAt),
		}, nil
	case len(w.Variants) > 0:
		levels := make([]ChannelLevel, 0, len(w.Variants))
		for _, v := range w.Variants {
			levels = append(levels, ChannelLevel{
				ExternalProductID: v.InventoryItemID.String(),
				Stock:             v.InventoryQuantity,
				Price:             parsePrice(v.Price),
			})
		}
		at := derefTime(w.UpdatedAt)
		return &WebhookEvent{
			Type:            enums.WebhookEventInventoryUpdate,
			ExternalEventID: fmt.Sprintf("product:%s:%d", w.ID, at.Unix()),
			Levels:          levels,
			OccurredAt:      at,
		}, nil
	}
	return &WebhookEvent{Type: enums.WebhookEventUnknown}, nil
}

func parsePrice(raw string) decimal.NullDecimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func firstTime(times ...*time.Time) time.Time {
	for _, t := range times {
		if t != nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
