package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// HTTPClient talks to the messaging gateway service over its JSON API. It
// implements Gateway, Directory, AssetStore and Notifier against a single
// base URL. Every call carries the client timeout so a hung gateway surfaces
// as a retryable error instead of parking a worker.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a gateway client. A non-positive timeout falls back
// to 30 seconds.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Send(ctx context.Context, channelID, targetID, content string, kind ContentKind) (*SendResult, error) {
	payload := map[string]any{
		"channel_id": channelID,
		"target_id":  targetID,
		"content":    content,
		"kind":       string(kind),
	}

	var result SendResult

	err := c.do(ctx, http.MethodPost, "/v1/messages", payload, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *HTTPClient) PostBroadcast(ctx context.Context, channelID, content string, imageURLs []string) (*SendResult, error) {
	payload := map[string]any{
		"channel_id": channelID,
		"content":    content,
		"images":     imageURLs,
	}

	var result SendResult

	err := c.do(ctx, http.MethodPost, "/v1/broadcasts", payload, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *HTTPClient) Resolve(ctx context.Context, targetID string) (*TargetInfo, error) {
	var info TargetInfo

	err := c.do(ctx, http.MethodGet, "/v1/targets/"+url.PathEscape(targetID), nil, &info)
	if err != nil {
		return nil, err
	}

	return &info, nil
}

func (c *HTTPClient) Targets(ctx context.Context, query TargetQuery) ([]*TargetInfo, error) {
	values := url.Values{}

	for _, tag := range query.Tags {
		values.Add("tag", tag)
	}

	for _, channelID := range query.ChannelIDs {
		values.Add("channel_id", channelID)
	}

	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}

	path := "/v1/targets"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var targets []*TargetInfo

	err := c.do(ctx, http.MethodGet, path, nil, &targets)
	if err != nil {
		return nil, err
	}

	return targets, nil
}

func (c *HTTPClient) AddTag(ctx context.Context, targetID, tag string) error {
	payload := map[string]any{"tag": tag}

	return c.do(ctx, http.MethodPost, "/v1/targets/"+url.PathEscape(targetID)+"/tags", payload, nil)
}

func (c *HTTPClient) RemoveTag(ctx context.Context, targetID, tag string) error {
	path := "/v1/targets/" + url.PathEscape(targetID) + "/tags/" + url.PathEscape(tag)

	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) UpdateLabel(ctx context.Context, targetID, label string) error {
	payload := map[string]any{"label": label}

	return c.do(ctx, http.MethodPut, "/v1/targets/"+url.PathEscape(targetID)+"/label", payload, nil)
}

func (c *HTTPClient) AssetByID(ctx context.Context, id string) (*Asset, error) {
	var asset Asset

	err := c.do(ctx, http.MethodGet, "/v1/assets/"+url.PathEscape(id), nil, &asset)
	if err != nil {
		return nil, err
	}

	return &asset, nil
}

func (c *HTTPClient) NotifyHuman(ctx context.Context, channelID, message, actionURL string) error {
	payload := map[string]any{
		"channel_id": channelID,
		"message":    message,
		"action_url": actionURL,
	}

	return c.do(ctx, http.MethodPost, "/v1/notifications", payload, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}

		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}

	return nil
}

func (c *HTTPClient) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr struct {
		Error string `json:"error"`
	}

	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != "" {
		message = apiErr.Error
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && strings.Contains(resp.Request.URL.Path, "/assets/"):
		return ErrAssetNotFound
	case resp.StatusCode == http.StatusNotFound && strings.Contains(resp.Request.URL.Path, "/targets/"):
		return ErrTargetNotFound
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		return &ValidationError{Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, message)}
	default:
		return fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, message)
	}
}
