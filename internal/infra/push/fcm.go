package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pulse/internal/common"
	"pulse/internal/domain/notify"
)

var _ notify.Pusher = (*FCMProvider)(nil)

const fcmEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMProvider sends push notifications through Firebase Cloud Messaging.
type FCMProvider struct {
	serverKey  string
	endpoint   string
	httpClient *http.Client
}

// NewFCMProvider creates a new FCM push provider.
func NewFCMProvider(serverKey string) *FCMProvider {
	return &FCMProvider{
		serverKey:  serverKey,
		endpoint:   fcmEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Push delivers one notification to a device token.
func (p *FCMProvider) Push(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	payload := map[string]any{
		"to": deviceToken,
		"notification": map[string]string{
			"title": title,
			"body":  body,
		},
	}
	if len(data) > 0 {
		payload["data"] = data
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.serverKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return common.NewProviderError("fcm", err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return common.NewProviderError("fcm", fmt.Sprintf("reading response: %v", err))
	}

	if resp.StatusCode >= 400 {
		return common.NewProviderError("fcm", fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result struct {
		Failure int `json:"failure"`
		Results []struct {
			Error string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		// Non-JSON success body; treat delivery as accepted.
		return nil
	}
	if result.Failure > 0 && len(result.Results) > 0 && result.Results[0].Error != "" {
		return common.NewProviderError("fcm", result.Results[0].Error)
	}

	return nil
}
