package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

const (
	ebayDefaultBaseURL = "https://api.ebay.com"
	// bulk_update_price_quantity takes at most 25 requests.
	ebayBatchLimit = 25
)

var ebayDialect = dialect{
	channelType: enums.ChannelTypeEbay,
	baseURL: func(c Credentials) (string, error) {
		if c.BaseURL != "" {
			return c.BaseURL, nil
		}
		return ebayDefaultBaseURL, nil
	},
	headers: func(c Credentials) (http.Header, error) {
		if c.AccessToken == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "ebay access_token is required")
		}
		h := http.Header{}
		h.Set("Authorization", "Bearer "+c.AccessToken)
		return h, nil
	},
	healthPath: "sell/account/v1/privilege",
	encoding:   encodingHex,
	push:       ebayPush,
	parse:      ebayParse,
}

type ebayQuantityRequest struct {
	SKU string `json:"sku"`
	ShipToLocationAvailability struct {
		Quantity int `json:"quantity"`
	} `json:"shipToLocationAvailability"`
}

func ebayPush(ctx context.Context, c *httpClient, _ Credentials, req SyncRequest) (*SyncResponse, error) {
	var t tally
	requests := make([]ebayQuantityRequest, 0, len(req.Updates))
	for _, u := range req.Updates {
		sku := u.ExternalProductID
		if sku == "" {
			sku = u.SKU
		}
		if sku == "" {
			t.fail("missing sku for product " + u.ProductID.String())
			continue
		}
		r := ebayQuantityRequest{SKU: sku}
		r.ShipToLocationAvailability.Quantity = u.Quantity
		requests = append(requests, r)
	}
	for start := 0; start < len(requests); start += ebayBatchLimit {
		chunk := requests[start:min(start+ebayBatchLimit, len(requests))]
		var resp struct {
			Responses []struct {
				SKU        string `json:"sku"`
				StatusCode int    `json:"statusCode"`
				Errors     []struct {
					Message string `json:"message"`
				} `json:"errors"`
			} `json:"responses"`
		}
		if err := c.do(ctx, http.MethodPost, "sell/inventory/v1/bulk_update_price_quantity", nil, map[string]any{"requests": chunk}, &resp); err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeCredential) || pkgerrors.Is(err, pkgerrors.CodeRateLimit) {
				return nil, err
			}
			for range chunk {
				_ = t.record(err)
			}
			continue
		}
		for _, r := range resp.Responses {
			if r.StatusCode >= 200 && r.StatusCode < 300 {
				_ = t.record(nil)
				continue
			}
			msg := "sku " + r.SKU + " rejected"
			if len(r.Errors) > 0 {
				msg += ": " + r.Errors[0].Message
			}
			t.fail(msg)
		}
	}
	return t.result(), nil
}

func ebayParse(payload []byte) (*WebhookEvent, error) {
	var n struct {
		Metadata struct {
			Topic string `json:"topic"`
		} `json:"metadata"`
		Notification struct {
			NotificationID string    `json:"notificationId"`
			EventDate      time.Time `json:"eventDate"`
			Data           struct {
				SKU       string `json:"sku"`
				Quantity  *int   `json:"quantity"`
				OrderID   string `json:"orderId"`
				LineItems []struct {
					SKU      string `json:"sku"`
					Quantity int    `json:"quantity"`
				} `json:"lineItems"`
			} `json:"data"`
		} `json:"notification"`
	}
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, err
	}
	if n.Notification.NotificationID == "" {
		return nil, errors.New("notificationId missing")
	}
	event := &WebhookEvent{ExternalEventID: n.Notification.NotificationID, OccurredAt: n.Notification.EventDate.UTC()}
	data := n.Notification.Data
	switch n.Metadata.Topic {
	case "INVENTORY_UPDATED":
		event.Type = enums.WebhookEventInventoryUpdate
		event.Levels = []ChannelLevel{{ExternalProductID: data.SKU, Stock: data.Quantity}}
		return event, nil
	case "ORDER_CREATED":
		event.Type = enums.WebhookEventOrderCreated
	case "ORDER_CANCELLED":
		event.Type = enums.WebhookEventOrderCancelled
	case "ORDER_FULFILLED":
		event.Type = enums.WebhookEventOrderFulfilled
	default:
		event.Type = enums.WebhookEventUnknown
		return event, nil
	}
	event.OrderID = data.OrderID
	for _, li := range data.LineItems {
		event.Lines = append(event.Lines, OrderLine{ExternalProductID: li.SKU, SKU: li.SKU, Quantity: li.Quantity})
	}
	return event, nil
}
