package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/healstack/heal-engine/internal/models"
)

// WebhookCapability executes remediation actions by POSTing the action
// descriptor to an external remediation integration. What the action actually
// does (restart a service, scale a resource) is the integration's business.
type WebhookCapability struct {
	endpoint   string
	httpClient *http.Client
}

// NewWebhookCapability constructs a capability targeting the configured
// remediation endpoint.
func NewWebhookCapability(endpoint string, timeout time.Duration) *WebhookCapability {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookCapability{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Execute implements the executor capability interface.
func (c *WebhookCapability) Execute(ctx context.Context, action models.Action) (string, error) {
	if c == nil || c.endpoint == "" {
		return "", fmt.Errorf("remediation endpoint not configured")
	}

	var response struct {
		Output string `json:"output"`
	}
	if err := postJSON(ctx, c.httpClient, c.endpoint+"/v1/actions", action, nil, &response); err != nil {
		return "", fmt.Errorf("action %s: %w", action.Name, err)
	}
	return response.Output, nil
}
