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

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

const amazonDefaultBaseURL = "https://sellingpartnerapi-na.amazon.com"

var amazonDialect = dialect{
	channelType: enums.ChannelTypeAmazon,
	baseURL: func(c Credentials) (string, error) {
		if c.BaseURL != "" {
			return c.BaseURL, nil
		}
		return amazonDefaultBaseURL, nil
	},
	headers: func(c Credentials) (http.Header, error) {
		if c.AccessToken == "" || c.SellerID == "" || c.MarketplaceID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "amazon access_token, seller_id and marketplace_id are required")
		}
		h := http.Header{}
		h.Set("x-amz-access-token", c.AccessToken)
		return h, nil
	},
	healthPath: "sellers/v1/marketplaceParticipations",
	encoding:   encodingHex,
	push:       amazonPush,
	parse:      amazonParse,
}

// amazonPush patches the fulfillment availability of each listing by SKU.
func amazonPush(ctx context.Context, c *httpClient, creds Credentials, req SyncRequest) (*SyncResponse, error) {
	params := url.Values{}
	params.Set("marketplaceIds", creds.MarketplaceID)
	var t tally
	for _, u := range req.Updates {
		sku := u.ExternalProductID
		if sku == "" {
			sku = u.SKU
		}
		if sku == "" {
			t.fail("missing seller sku for product " + u.ProductID.String())
			continue
		}
		body := map[string]any{
			"productType": "PRODUCT",
			"patches": []map[string]any{{
				"op":   "replace",
				"path": "/attributes/fulfillment_availability",
				"value": []map[string]any{{
					"fulfillment_channel_code": "DEFAULT",
					"quantity":                 u.Quantity,
				}},
			}},
		}
		path := fmt.Sprintf("listings/2021-08-01/items/%s/%s", url.PathEscape(creds.SellerID), url.PathEscape(sku))
		var resp struct {
			Status string `json:"status"`
			Issues []struct {
				Message string `json:"message"`
			} `json:"issues"`
		}
		err := c.do(ctx, http.MethodPatch, path, params, body, &resp)
		if err == nil && resp.Status != "" && resp.Status != "ACCEPTED" {
			msg := "listing " + sku + " " + strings.ToLower(resp.Status)
			if len(resp.Issues) > 0 {
				msg += ": " + resp.Issues[0].Message
			}
			t.fail(msg)
			continue
		}
		if err := t.record(err); err != nil {
			return nil, err
		}
	}
	return t.result(), nil
}

func amazonParse(payload []byte) (*WebhookEvent, error) {
	var n struct {
		NotificationType string    `json:"notificationType"`
		NotificationID   string    `json:"notificationId"`
		EventTime        time.Time `json:"eventTime"`
		Payload          struct {
			OrderID     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			Items       []struct {
				SellerSKU string `json:"sellerSku"`
				Quantity  int    `json:"quantity"`
			} `json:"items"`
			SellerSKU           string `json:"sellerSku"`
			FulfillableQuantity *int   `json:"fulfillableQuantity"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, err
	}
	if n.NotificationID == "" {
		return nil, errors.New("notificationId missing")
	}
	event := &WebhookEvent{ExternalEventID: n.NotificationID, OccurredAt: n.EventTime.UTC()}
	switch n.NotificationType {
	case "LISTINGS_ITEM_MFN_QUANTITY_CHANGE":
		event.Type = enums.WebhookEventInventoryUpdate
		event.Levels = []ChannelLevel{{ExternalProductID: n.Payload.SellerSKU, Stock: n.Payload.FulfillableQuantity}}
	case "ORDER_CHANGE":
		switch n.Payload.OrderStatus {
		case "Pending", "Unshipped":
			event.Type = enums.WebhookEventOrderCreated
		case "Canceled":
			event.Type = enums.WebhookEventOrderCancelled
		case "Shipped":
			event.Type = enums.WebhookEventOrderFulfilled
		default:
			event.Type = enums.WebhookEventUnknown
			return event, nil
		}
		event.OrderID = n.Payload.OrderID
		for _, it := range n.Payload.Items {
			event.Lines = append(event.Lines, OrderLine{ExternalProductID: it.SellerSKU, SKU: it.SellerSKU, Quantity: it.Quantity})
		}
	default:
		event.Type = enums.WebhookEventUnknown
	}
	return event, nil
}
