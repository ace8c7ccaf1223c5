package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// WebhookRequest is the JSON body posted to the webhook endpoint.
type WebhookRequest struct {
	NotificationID string            `json:"notificationId"`
	FingerprintID  string            `json:"fingerprintId"`
	JobID          string            `json:"jobId"`
	StaffID        string            `json:"staffId"`
	EventType      string            `json:"eventType"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
}

// WebhookProvider delivers notifications by POSTing them to a configured URL.
// The URL is injected from config so tests can point to a local server.
type WebhookProvider struct {
	url        string
	httpClient *http.Client
}

func NewWebhookProvider(url string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts the notification and expects 202 Accepted with a JSON body
// containing messageId. Other 4xx answers except 429 are permanent.
func (p *WebhookProvider) Send(ctx context.Context, n *domain.Notification) (*SendResponse, error) {
	body, err := json.Marshal(WebhookRequest{
		NotificationID: n.ID,
		FingerprintID:  n.FingerprintID,
		JobID:          n.JobID,
		StaffID:        n.StaffID,
		EventType:      string(n.EventType),
		Title:          n.Title,
		Body:           n.Body,
		Data:           n.Data,
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		err := fmt.Errorf("unexpected webhook status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, Permanent(err)
		}
		return nil, err
	}

	var sendResp SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &sendResp, nil
}

// compile-time check that WebhookProvider implements Provider
var _ Provider = (*WebhookProvider)(nil)
