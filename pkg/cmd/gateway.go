package cmd

import (
	"time"

	"github.com/playbookd/playbookd/pkg/gateway"
)

// NewGateway creates the HTTP client for the messaging gateway. The returned
// client implements all four gateway interfaces.
func NewGateway(baseURL, apiKey string, timeout time.Duration) *gateway.HTTPClient {
	return gateway.NewHTTPClient(baseURL, apiKey, timeout)
}
