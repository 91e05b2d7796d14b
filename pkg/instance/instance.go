// Package instance names the running process for lock ownership and logs.
package instance

import (
	"os"
	"strings"
)

const fallbackID = "apmatch-0"

// GetID returns APMATCH_INSTANCE_ID, then the hostname, then a fixed default.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("APMATCH_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
