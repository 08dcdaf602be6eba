package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/phrazzld/medstock-api/internal/config"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/retry"
	"github.com/phrazzld/medstock-api/internal/vision"
	"golang.org/x/time/rate"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
	maxErrorBody   = 4096
)

// Client implements vision.Analyzer over the chat completions API.
type Client struct {
	logger      *slog.Logger
	http        *http.Client
	limiter     *rate.Limiter
	apiKey      string
	base        string
	model       string
	temperature float32
}

var _ vision.Analyzer = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient builds a client from the LLM settings. A zero RequestsPerSecond
// disables client-side rate limiting.
func NewClient(logger *slog.Logger, cfg config.LLMConfig, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", vision.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", vision.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}

	c := &Client{
		logger:      logger.With(slog.String("provider", providerName), slog.String("model", cfg.Model)),
		http:        &http.Client{},
		apiKey:      cfg.APIKey,
		base:        base,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Analyze sends the instructions and all images as one user message.
func (c *Client) Analyze(ctx context.Context, req vision.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", retry.Permanent(err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("encode chat request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("build chat request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.DebugContext(ctx, "Sending analysis request", "image_count", len(req.Images))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WarnContext(ctx, "Chat completions request failed", "error", err)
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &vision.APIError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
		c.logger.WarnContext(ctx, "Chat completions API error", "status_code", resp.StatusCode)
		return "", apiErr
	}

	text, err := parseCompletion(resp.Body)
	if err != nil {
		return "", retry.Permanent(err)
	}
	return text, nil
}

func (c *Client) buildRequest(req vision.Request) chatRequest {
	parts := make([]contentPart, 0, len(req.Images)+1)
	parts = append(parts, contentPart{Type: "text", Text: req.Instructions})
	for _, img := range req.Images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: imageURLFor(img)}})
	}

	return chatRequest{
		Model:          c.model,
		Messages:       []chatMessage{{Role: "user", Content: parts}},
		Temperature:    c.temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
}

// imageURLFor returns the URL for a reference, encoding byte references as data URLs.
func imageURLFor(ref imagestore.Reference) string {
	if ref.Kind == imagestore.KindURL {
		return ref.URL
	}
	ct := ref.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(ref.Data)
}

func parseCompletion(body io.Reader) (string, error) {
	obj, err := jason.NewObjectFromReader(body)
	if err != nil {
		return "", fmt.Errorf("%w: decode completion: %v", vision.ErrEmptyResponse, err)
	}

	choices, err := obj.GetObjectArray("choices")
	if err != nil || len(choices) == 0 {
		return "", vision.ErrEmptyResponse
	}

	if reason, _ := choices[0].GetString("finish_reason"); reason == "content_filter" {
		return "", fmt.Errorf("%w: completion stopped by content filter", vision.ErrContentBlocked)
	}

	content, err := choices[0].GetString("message", "content")
	if err != nil || strings.TrimSpace(content) == "" {
		return "", vision.ErrEmptyResponse
	}
	return content, nil
}

func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	if obj, err := jason.NewObjectFromBytes(raw); err == nil {
		if msg, err := obj.GetString("error", "message"); err == nil && msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(raw))
}
