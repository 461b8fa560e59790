// Package gateway is the HTTP client for the third-party chat-messaging
// gateway, plus the secondary SMS channel. One POST per message type;
// any 2xx is success, everything else (timeouts included) is failure.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

type Client struct {
	baseURL      string
	token        string
	domainSuffix string // recipient JID suffix, e.g. "s.whatsapp.net"
	http         *http.Client
}

func NewClient(baseURL, token, domainSuffix string) *Client {
	return &Client{
		baseURL:      baseURL,
		token:        token,
		domainSuffix: domainSuffix,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

// SendResult is the outcome of one gateway call. Body is kept verbatim
// for the outbox audit trail.
type SendResult struct {
	StatusCode int
	Body       string
	MessageID  string // provider message id, when the gateway returns one
}

func (r *SendResult) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// JID renders a recipient as the gateway expects: <digits>@<suffix>.
func (c *Client) JID(digits string) string {
	return digits + "@" + c.domainSuffix
}

func (c *Client) SendText(ctx context.Context, to, body string) (*SendResult, error) {
	return c.post(ctx, "/messages/text", map[string]any{
		"to":   c.JID(to),
		"text": map[string]string{"body": body},
	})
}

func (c *Client) SendMediaURL(ctx context.Context, to, mediaURL, mimetype, caption string) (*SendResult, error) {
	return c.post(ctx, "/messages/media", map[string]any{
		"to":       c.JID(to),
		"url":      mediaURL,
		"mimetype": mimetype,
		"caption":  caption,
	})
}

// SendMediaInline sends a media payload carried in the request itself,
// base64-encoded, for documents the gateway cannot fetch by URL.
func (c *Client) SendMediaInline(ctx context.Context, to, data, mimetype, caption string) (*SendResult, error) {
	return c.post(ctx, "/messages/media", map[string]any{
		"to":       c.JID(to),
		"data":     data,
		"mimetype": mimetype,
		"caption":  caption,
	})
}

type ListRow struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

func (c *Client) SendList(ctx context.Context, to, title, buttonText string, sections []ListSection) (*SendResult, error) {
	return c.post(ctx, "/messages/list", map[string]any{
		"to":         c.JID(to),
		"title":      title,
		"buttonText": buttonText,
		"sections":   sections,
	})
}

type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) (*SendResult, error) {
	return c.post(ctx, "/messages/buttons", map[string]any{
		"to":      c.JID(to),
		"body":    body,
		"buttons": buttons,
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) (*SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return &SendResult{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		MessageID:  gjson.GetBytes(respBody, "key.id").String(),
	}, nil
}
