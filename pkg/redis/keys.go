package redis

import "strings"

const namespace = "cs"

// Key families. Changing one orphans every key already written under it.
const (
	familyIdempotency = "idempotency"
	familyRateLimit   = "rate_limit"
	familySync        = "sync"
	familyForecast    = "forecast"
	familyLock        = "lock"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return key(familyIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return key(familyRateLimit, scope)
}

// SyncStatusKey holds the shared snapshot of a running sync.
func (c *Client) SyncStatusKey(syncID string) string {
	return key(familySync, "status", syncID)
}

func (c *Client) ForecastKey(productID, channelID string) string {
	return key(familyForecast, productID, channelID)
}

func (c *Client) LockKey(scope, id string) string {
	return key(familyLock, scope, id)
}

// key joins the namespace and the non-blank parts with ":".
func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
