package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"line-relay/internal/domain"
)

const (
	DefaultDeployment = "mulabo_gpt35"
	DefaultAPIVersion = "2023-05-15"
)

// chatRequest is the minimal request shape for the Azure chat completions endpoint.
type chatRequest struct {
	Model    string               `json:"model,omitempty"`
	Messages []domain.ChatMessage `json:"messages"`
}

// chatResponse is the minimal response shape returned by the chat completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused Azure OpenAI client for chat completions.
type Client struct {
	endpoint   string
	deployment string
	apiVersion string
	httpClient *http.Client

	apiKey    string
	getter    Getter
	keyParam  string
	keyMu     sync.Mutex
	cachedKey string
}

type Option func(*Client)

func WithDeployment(deployment string) Option {
	return func(c *Client) {
		if d := strings.TrimSpace(deployment); d != "" {
			c.deployment = d
		}
	}
}

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(version); v != "" {
			c.apiVersion = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithKeyFromParamStore makes the client read its API key from the parameter
// store on first use when no static key was configured.
func WithKeyFromParamStore(g Getter, name string) Option {
	return func(c *Client) {
		c.getter = g
		c.keyParam = strings.TrimSpace(name)
	}
}

// NewClient creates a Client for the Azure resource at endpoint.
func NewClient(endpoint, apiKey string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("openai: endpoint must not be empty")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("openai: invalid endpoint: %w", err)
	}
	c := &Client{
		endpoint:   endpoint,
		deployment: DefaultDeployment,
		apiVersion: DefaultAPIVersion,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     strings.TrimSpace(apiKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" && c.getter == nil {
		return nil, errors.New("openai: api key must not be empty")
	}
	return c, nil
}

// resolveAPIKey returns the static key, or fetches it from the parameter store
// and reuses it for the lifetime of the process. Failed fetches are not
// cached; the next call tries again.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.cachedKey != "" {
		return c.cachedKey, nil
	}
	key, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.keyParam)
	if err != nil {
		return "", err
	}
	c.cachedKey = key
	return key, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func chatURL(endpoint, deployment, apiVersion string) string {
	base := strings.TrimRight(endpoint, "/")
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		base, url.PathEscape(deployment), url.QueryEscape(apiVersion))
}

// Chat sends the full transcript and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.deployment,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	u := chatURL(c.endpoint, c.deployment, c.apiVersion)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", apiKey)

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *Client) doJSONRequest(req *http.Request, u string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: key parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch key from paramstore: %w", err)
	}
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", errors.New("openai: API key is empty")
	}
	return key, nil
}
