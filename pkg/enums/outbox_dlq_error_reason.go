package enums

import (
	"fmt"
	"slices"
)

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	return slices.Contains(validOutboxDLQErrorReasons, r)
}

// ParseOutboxDLQErrorReason accepts an empty value as "any reason".
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	if value == "" {
		return "", nil
	}
	r := OutboxDLQErrorReason(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid dead letter reason %q", value)
	}
	return r, nil
}
