package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/stream"
	"github.com/consync/consync/pkg/utils"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

// HTTPClient is the primary execution path: direct calls through net/http
// with browser-shaped headers and cookie authentication.
type HTTPClient struct {
	baseURL   string
	pageLimit int
	locale    string
	client    *http.Client
	logger    *slog.Logger

	// Per-process identity headers; stable for the process lifetime.
	deviceID    string
	anonymousID string
}

type HTTPOptions struct {
	BaseURL   string
	PageLimit int
	Locale    string
	Timeout   time.Duration
}

func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	limit := opts.PageLimit
	if limit <= 0 {
		limit = 30
	}
	return &HTTPClient{
		baseURL:     opts.BaseURL,
		pageLimit:   limit,
		locale:      opts.Locale,
		client:      &http.Client{Timeout: timeout},
		logger:      utils.GetLogger(),
		deviceID:    uuid.New().String(),
		anonymousID: uuid.New().String(),
	}
}

func (c *HTTPClient) Name() string { return "http" }

func (c *HTTPClient) newRequest(ctx context.Context, cred *models.CredentialBundle, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-client-platform", "web_claude_ai")
	req.Header.Set("anthropic-device-id", c.deviceID)
	req.Header.Set("anthropic-anonymous-id", c.anonymousID)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://claude.ai/")
	req.Header.Set("Origin", "https://claude.ai")
	req.Header.Set("Cookie", cookieHeader(cred))
	if cred.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", cred.CSRFToken)
	}
	return req, nil
}

// classifyStatus maps an HTTP status to the error taxonomy. nil means the
// status is a success.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrAuthRejected, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w (status %d)", ErrNotFoundRemotely, status)
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

func (c *HTTPClient) ListConversations(ctx context.Context, cred *models.CredentialBundle) ([]models.Conversation, error) {
	endpoints := listEndpoints(cred.OrganizationID)

	// The primary endpoint gets the page-size limit; a 404 or an
	// unrecognized shape advances to the next candidate.
	for i, endpoint := range endpoints {
		path := endpoint
		if i == 0 {
			path += "?" + url.Values{
				"limit":   {fmt.Sprint(c.pageLimit)},
				"starred": {"false"},
			}.Encode()
		}

		conversations, err := c.listOnce(ctx, cred, path)
		if err == nil {
			return conversations, nil
		}
		if IsAuthRejected(err) {
			return nil, err
		}
		c.logger.Debug("conversation endpoint failed", "endpoint", endpoint, "error", err)
	}

	return nil, ErrAllEndpointsExhausted
}

func (c *HTTPClient) listOnce(ctx context.Context, cred *models.CredentialBundle, path string) ([]models.Conversation, error) {
	req, err := c.newRequest(ctx, cred, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read list response: %w", err)
	}
	return DecodeConversationList(body, cred.OrganizationID)
}

func (c *HTTPClient) CreateConversation(ctx context.Context, cred *models.CredentialBundle, title string) (string, error) {
	if title == "" {
		title = "New Conversation"
	}
	payload, err := json.Marshal(map[string]string{"name": title})
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("/organizations/%s/chat_conversations", cred.OrganizationID)
	req, err := c.newRequest(ctx, cred, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read create response: %w", err)
	}
	return DecodeCreatedID(body)
}

func (c *HTTPClient) FetchConversation(ctx context.Context, cred *models.CredentialBundle, id string) ([]byte, error) {
	path := fmt.Sprintf("/organizations/%s/chat_conversations/%s", cred.OrganizationID, id)
	req, err := c.newRequest(ctx, cred, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", id, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) SendMessage(ctx context.Context, cred *models.CredentialBundle, conversationID, prompt, parentMessageID string, onUpdate func(string)) (string, error) {
	payload, err := json.Marshal(newCompletionPayload(prompt, parentMessageID, c.locale))
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("/organizations/%s/chat_conversations/%s/completion", cred.OrganizationID, conversationID)
	req, err := c.newRequest(ctx, cred, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Referer", "https://claude.ai/chat/"+conversationID)

	// The event stream can outlive the default request timeout; rely on ctx
	// for cancellation instead.
	streamClient := &http.Client{Transport: c.client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return "", err
	}

	return consumeStream(ctx, resp.Body, onUpdate)
}

// consumeStream decodes a streamed completion body, delivering cumulative
// snapshots to onUpdate, and returns the final text.
func consumeStream(ctx context.Context, body io.Reader, onUpdate func(string)) (string, error) {
	var final stream.Update
	for update := range stream.Stream(ctx, body) {
		if update.Done {
			final = update
			continue
		}
		if onUpdate != nil {
			onUpdate(update.Text)
		}
	}
	if final.Err != nil {
		return final.Text, final.Err
	}
	if final.Text == "" {
		return stream.NoContent, nil
	}
	return final.Text, nil
}
