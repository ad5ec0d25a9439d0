package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/utils"
)

// CurlClient is the fallback execution path: the same logical endpoints
// reached through a curl subprocess. Some network environments block the
// direct path but allow curl's TLS fingerprint through.
type CurlClient struct {
	curlPath  string
	baseURL   string
	pageLimit int
	locale    string
	logger    *slog.Logger
}

type CurlOptions struct {
	CurlPath  string
	BaseURL   string
	PageLimit int
	Locale    string
}

func NewCurlClient(opts CurlOptions) *CurlClient {
	curlPath := opts.CurlPath
	if curlPath == "" {
		curlPath = "curl"
	}
	limit := opts.PageLimit
	if limit <= 0 {
		limit = 30
	}
	return &CurlClient{
		curlPath:  curlPath,
		baseURL:   opts.BaseURL,
		pageLimit: limit,
		locale:    opts.Locale,
		logger:    utils.GetLogger(),
	}
}

func (c *CurlClient) Name() string { return "curl" }

// baseArgs returns the common curl arguments for an authenticated request.
// Arguments are passed as a slice, never through a shell.
func (c *CurlClient) baseArgs(cred *models.CredentialBundle, url string) []string {
	return []string{
		"-s", url,
		"-H", "accept: */*",
		"-H", "anthropic-client-platform: web_claude_ai",
		"-H", "content-type: application/json",
		"-H", "user-agent: " + userAgent,
		"-b", cookieHeader(cred),
	}
}

func (c *CurlClient) run(ctx context.Context, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.curlPath, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("curl: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, fmt.Errorf("curl: empty response")
	}
	return out, nil
}

// checkErrorBody detects an explicit error object in a curl response body.
// curl exits zero on HTTP errors, so rejection surfaces in the body itself.
func checkErrorBody(body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	payload := gjson.ParseBytes(body)
	if payload.Get("type").String() == "error" {
		msg := payload.Get("error.message").String()
		return fmt.Errorf("%w: %s", ErrAuthRejected, msg)
	}
	return nil
}

func (c *CurlClient) ListConversations(ctx context.Context, cred *models.CredentialBundle) ([]models.Conversation, error) {
	endpoints := listEndpoints(cred.OrganizationID)

	for i, endpoint := range endpoints {
		url := c.baseURL + endpoint
		if i == 0 {
			url += fmt.Sprintf("?limit=%d&starred=false", c.pageLimit)
		}

		body, err := c.run(ctx, c.baseArgs(cred, url), nil)
		if err != nil {
			c.logger.Debug("curl list failed", "endpoint", endpoint, "error", err)
			continue
		}
		if err := checkErrorBody(body); err != nil {
			return nil, err
		}

		conversations, err := DecodeConversationList(body, cred.OrganizationID)
		if err != nil {
			c.logger.Debug("curl list shape not recognized", "endpoint", endpoint, "error", err)
			continue
		}
		return conversations, nil
	}

	return nil, ErrAllEndpointsExhausted
}

func (c *CurlClient) CreateConversation(ctx context.Context, cred *models.CredentialBundle, title string) (string, error) {
	if title == "" {
		title = "New Conversation"
	}
	payload, err := json.Marshal(map[string]string{"name": title})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/organizations/%s/chat_conversations", c.baseURL, cred.OrganizationID)
	args := append(c.baseArgs(cred, url), "-X", "POST", "--data-binary", "@-")

	body, err := c.run(ctx, args, payload)
	if err != nil {
		return "", err
	}
	if err := checkErrorBody(body); err != nil {
		return "", err
	}
	return DecodeCreatedID(body)
}

func (c *CurlClient) FetchConversation(ctx context.Context, cred *models.CredentialBundle, id string) ([]byte, error) {
	url := fmt.Sprintf("%s/organizations/%s/chat_conversations/%s", c.baseURL, cred.OrganizationID, id)

	body, err := c.run(ctx, c.baseArgs(cred, url), nil)
	if err != nil {
		return nil, err
	}
	if err := checkErrorBody(body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *CurlClient) SendMessage(ctx context.Context, cred *models.CredentialBundle, conversationID, prompt, parentMessageID string, onUpdate func(string)) (string, error) {
	payload, err := json.Marshal(newCompletionPayload(prompt, parentMessageID, c.locale))
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/organizations/%s/chat_conversations/%s/completion", c.baseURL, cred.OrganizationID, conversationID)
	args := c.baseArgs(cred, url)
	args = append(args, "-H", "accept: text/event-stream", "--no-buffer", "--data-binary", "@-")

	cmd := exec.CommandContext(ctx, c.curlPath, args...)
	cmd.Stdin = bytes.NewReader(payload)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("curl: %w", err)
	}

	text, streamErr := consumeStream(ctx, stdout, onUpdate)

	if err := cmd.Wait(); err != nil && streamErr == nil {
		return text, fmt.Errorf("curl: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return text, streamErr
}
