package instance

import (
	"os"
	"strings"
)

const envWorkerID = "CHANNELSTOCK_WORKER_ID"

// ID returns the identifier for this worker process. It prefers the
// configured worker id, then the hostname.
func ID() string {
	if id := strings.TrimSpace(os.Getenv(envWorkerID)); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}

// Owner returns a lock owner value unique to this process and call.
func Owner(token string) string {
	return ID() + ":" + token
}
