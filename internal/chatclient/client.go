// Package chatclient is the polling side of chat: an HTTP client for the send
// and sync endpoints, a local outbox of unconfirmed sends, and a poller that
// reconciles the two into a flicker-free inbox.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rentchat/internal/app/dto"
)

const (
	sendPath = "/api/chat/send"
	syncPath = "/api/chat/sync"
)

// APIError is a non-2xx response carrying the server's {error} body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
}

// Client calls the chat endpoints. A zero Timeout leaves requests bounded only
// by their context.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Send posts one message. A non-empty idempotencyKey makes retries safe.
func (c *Client) Send(ctx context.Context, req dto.SendMessageRequest, idempotencyKey string) (dto.SendMessageResult, error) {
	var out dto.SendMessageResult
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	err := c.post(ctx, sendPath, req, headers, &out)
	return out, err
}

func (c *Client) Sync(ctx context.Context, userID string) (dto.InboxSnapshot, error) {
	var out dto.InboxSnapshot
	err := c.post(ctx, syncPath, dto.SyncRequest{UserID: userID}, nil, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		request.Header.Set(k, v)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// IsClientError reports whether err is a 4xx response; retrying it cannot succeed.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}
