package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSClient is the secondary channel, used only while the primary
// circuit is open. Best effort, single attempt.
type SMSClient struct {
	url   string
	token string
	http  *http.Client
}

func NewSMSClient(url, token string) *SMSClient {
	return &SMSClient{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *SMSClient) Send(ctx context.Context, to, message string) error {
	body, err := json.Marshal(map[string]string{"to": to, "message": message})
	if err != nil {
		return fmt.Errorf("sms: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sms: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms: HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
