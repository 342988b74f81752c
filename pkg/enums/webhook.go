package enums

// WebhookStatus records what happened to an inbound webhook.
type WebhookStatus string

const (
	WebhookStatusReceived         WebhookStatus = "received"
	WebhookStatusInvalidSignature WebhookStatus = "invalid_signature"
	WebhookStatusProcessed        WebhookStatus = "processed"
	WebhookStatusFailed           WebhookStatus = "failed"
	WebhookStatusDuplicate        WebhookStatus = "duplicate"
)

// String implements fmt.Stringer.
func (w WebhookStatus) String() string {
	return string(w)
}

// WebhookEventType is the normalized event kind produced by connectors.
type WebhookEventType string

const (
	WebhookEventInventoryUpdate WebhookEventType = "inventory_update"
	WebhookEventProductUpdate   WebhookEventType = "product_update"
	WebhookEventOrderCreated    WebhookEventType = "order_created"
	WebhookEventOrderCancelled  WebhookEventType = "order_cancelled"
	WebhookEventOrderFulfilled  WebhookEventType = "order_fulfilled"
	WebhookEventUnknown         WebhookEventType = "unknown"
)

// String implements fmt.Stringer.
func (w WebhookEventType) String() string {
	return string(w)
}
