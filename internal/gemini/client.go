// Package gemini is a minimal client for the generateContent call of the
// Gemini API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public v1beta endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is used for both chat and translations.
	DefaultModel = "gemini-2.5-flash-lite"
)

// KeyFunc supplies the API key for each request. An empty key without error
// means none is configured.
type KeyFunc func(ctx context.Context) (string, error)

// Config configures a Client.
type Config struct {
	// APIKey is used when Key is nil.
	APIKey string
	Key    KeyFunc

	BaseURL string
	Timeout time.Duration

	// RequestsPerMinute limits outgoing calls (defaults to 30).
	RequestsPerMinute int

	HTTPClient *http.Client
}

// Client calls generateContent.
type Client struct {
	key         KeyFunc
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// GenerationConfig holds optional sampling parameters.
type GenerationConfig struct {
	Temperature     *float64
	MaxOutputTokens int
}

// Request is a single-prompt generation request.
type Request struct {
	Model  string
	Prompt string
	Config *GenerationConfig
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 30
	}

	key := cfg.Key
	if key == nil {
		static := cfg.APIKey
		key = func(context.Context) (string, error) { return static, nil }
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		key:         key,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
}

// Generate sends req and returns the text of the first part of the first
// candidate. Every way a response can fail to carry text maps to its own
// error; see UserMessage.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	apiKey, err := c.key(ctx)
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrNoCredential
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
	}
	if req.Config != nil {
		body.GenerationConfig = &generationConfig{
			Temperature:     req.Config.Temperature,
			MaxOutputTokens: req.Config.MaxOutputTokens,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	log.Debug("generateContent", "model", model, "status", httpResp.StatusCode, "took", time.Since(start))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		log.Error("API error response", "status", httpResp.StatusCode, "body", string(respBody))
		return "", &APIError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
			Body:       string(respBody),
		}
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	return result.text()
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate `json:"candidates"`
	UsageMetadata usage       `json:"usageMetadata"`
}

type candidate struct {
	Content      *content `json:"content"`
	FinishReason string   `json:"finishReason"`
}

type usage struct {
	TotalTokenCount int `json:"totalTokenCount"`
}

func (r *generateResponse) text() (string, error) {
	if len(r.Candidates) == 0 {
		return "", ErrNoCandidates
	}
	c := r.Candidates[0]
	if c.Content == nil {
		return "", ErrEmptyResponse
	}
	if len(c.Content.Parts) == 0 {
		switch c.FinishReason {
		case "SAFETY", "BLOCKED_REASON_UNSPECIFIED":
			return "", ErrBlocked
		case "MAX_TOKENS":
			return "", ErrTruncated
		default:
			return "", ErrNoContent
		}
	}
	if c.Content.Parts[0].Text == "" {
		return "", ErrNoText
	}
	return c.Content.Parts[0].Text, nil
}
