package connectors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// WooCommerce accepts at most 100 objects per batch request.
const wooBatchLimit = 100

var wooCommerceDialect = dialect{
	channelType: enums.ChannelTypeWooCommerce,
	baseURL: func(c Credentials) (string, error) {
		base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
		if base == "" {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "woocommerce base_url is required")
		}
		return base + "/wp-json/wc/v3", nil
	},
	headers: func(c Credentials) (http.Header, error) {
		if c.APIKey == "" || c.APISecret == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "woocommerce api_key and api_secret are required")
		}
		h := http.Header{}
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.APIKey+":"+c.APISecret)))
		return h, nil
	},
	healthPath: "system_status",
	encoding:   encodingBase64,
	push:       wooPush,
	fetch:      wooFetch,
	parse:      wooParse,
}

type wooBatchItem struct {
	ID            json.Number `json:"id"`
	StockQuantity int         `json:"stock_quantity"`
	ManageStock   bool        `json:"manage_stock"`
	RegularPrice  string      `json:"regular_price,omitempty"`
}

func wooPush(ctx context.Context, c *httpClient, _ Credentials, req SyncRequest) (*SyncResponse, error) {
	var t tally
	items := make([]wooBatchItem, 0, len(req.Updates))
	for _, u := range req.Updates {
		if u.ExternalProductID == "" {
			t.fail("missing product id for " + u.SKU)
			continue
		}
		item := wooBatchItem{ID: json.Number(u.ExternalProductID), StockQuantity: u.Quantity, ManageStock: true}
		if u.Price.IsPositive() {
			item.RegularPrice = u.Price.StringFixed(2)
		}
		items = append(items, item)
	}
	for start := 0; start < len(items); start += wooBatchLimit {
		end := min(start+wooBatchLimit, len(items))
		var resp struct {
			Update []struct {
				ID    json.Number `json:"id"`
				Error *struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			} `json:"update"`
		}
		if err := c.do(ctx, http.MethodPost, "products/batch", nil, map[string]any{"update": items[start:end]}, &resp); err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeCredential) || pkgerrors.Is(err, pkgerrors.CodeRateLimit) {
				return nil, err
			}
			for range items[start:end] {
				_ = t.record(err)
			}
			continue
		}
		for _, r := range resp.Update {
			if r.Error != nil {
				t.fail(fmt.Sprintf("product %s: %s", r.ID, r.Error.Message))
				continue
			}
			_ = t.record(nil)
		}
	}
	return t.result(), nil
}

func wooFetch(ctx context.Context, c *httpClient, _ Credentials, ids []string) ([]ChannelLevel, error) {
	params := url.Values{}
	params.Set("include", strings.Join(ids, ","))
	params.Set("per_page", fmt.Sprint(len(ids)))
	var resp []struct {
		ID            json.Number `json:"id"`
		StockQuantity *int        `json:"stock_quantity"`
		Price         string      `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "products", params, nil, &resp); err != nil {
		return nil, err
	}
	levels := make([]ChannelLevel, 0, len(resp))
	for _, p := range resp {
		levels = append(levels, ChannelLevel{ExternalProductID: p.ID.String(), Stock: p.StockQuantity, Price: parsePrice(p.Price)})
	}
	return levels, nil
}

func wooParse(payload []byte) (*WebhookEvent, error) {
	var w struct {
		ID            json.Number `json:"id"`
		Status        string      `json:"status"`
		StockQuantity *int        `json:"stock_quantity"`
		Price         string      `json:"price"`
		DateModified  string      `json:"date_modified_gmt"`
		LineItems     []struct {
			ProductID   json.Number `json:"product_id"`
			VariationID json.Number `json:"variation_id"`
			SKU         string      `json:"sku"`
			Quantity    int         `json:"quantity"`
		} `json:"line_items"`
	}
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	at, _ := time.Parse("2006-01-02T15:04:05", w.DateModified)

	if len(w.LineItems) > 0 {
		var kind enums.WebhookEventType
		switch w.Status {
		case "pending", "processing", "on-hold":
			kind = enums.WebhookEventOrderCreated
		case "cancelled", "refunded", "failed":
			kind = enums.WebhookEventOrderCancelled
		case "completed":
			kind = enums.WebhookEventOrderFulfilled
		default:
			return &WebhookEvent{Type: enums.WebhookEventUnknown}, nil
		}
		lines := make([]OrderLine, 0, len(w.LineItems))
		for _, li := range w.LineItems {
			id := li.ProductID
			if li.VariationID != "" && li.VariationID != "0" {
				id = li.VariationID
			}
			lines = append(lines, OrderLine{ExternalProductID: id.String(), SKU: li.SKU, Quantity: li.Quantity})
		}
		return &WebhookEvent{
			Type:            kind,
			ExternalEventID: fmt.Sprintf("order:%s:%s", w.ID, kind),
			OrderID:         w.ID.String(),
			Lines:           lines,
			OccurredAt:      at,
		}, nil
	}
	if w.ID != "" && (w.StockQuantity != nil || w.Price != "") {
		return &WebhookEvent{
			Type:            enums.WebhookEventInventoryUpdate,
			ExternalEventID: fmt.Sprintf("product:%s:%s", w.ID, w.DateModified),
			Levels:          []ChannelLevel{{ExternalProductID: w.ID.String(), Stock: w.StockQuantity, Price: parsePrice(w.Price)}},
			OccurredAt:      at,
		}, nil
	}
	return &WebhookEvent{Type: enums.WebhookEventUnknown}, nil
}
