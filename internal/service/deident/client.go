// Package deident calls the remote de-identification service and turns its
// findings into a reversible placeholder mapping.
package deident

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/officeai/privacy-gateway/internal/redact"
)

// ErrDetectionUnavailable signals that the detector was unreachable or
// rejected the request. The turn aborts before any persistence.
var ErrDetectionUnavailable = errors.New("detection service unavailable")

// DefaultCategories are the sensitive-span categories requested from the
// detector when none are configured.
var DefaultCategories = []string{
	"EMAIL_ADDRESS",
	"PHONE_NUMBER",
	"PERSON_NAME",
	"IBAN_CODE",
}

// Client is an HTTP client for the detector's inspect endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	categories []string
	failOpen   bool
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithCategories overrides the detected category set.
func WithCategories(categories []string) Option {
	return func(c *Client) {
		if len(categories) > 0 {
			c.categories = categories
		}
	}
}

// WithFailOpen makes Mask return the original text unmasked when the
// detector is unavailable instead of failing the turn. Off by default.
func WithFailOpen(failOpen bool) Option {
	return func(c *Client) { c.failOpen = failOpen }
}

// WithTimeout bounds each detector call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a detector client for the given inspect endpoint.
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		categories: DefaultCategories,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type inspectRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
}

type inspectResponse struct {
	Findings []redact.Finding `json:"findings"`
}

// Mask sends text to the detector and replaces every reported span with a
// placeholder token. No findings means the text passes through unchanged
// with an empty mapping.
func (c *Client) Mask(ctx context.Context, text string) (string, redact.Mapping, error) {
	findings, err := c.inspect(ctx, text)
	if err != nil {
		if c.failOpen {
			log.Printf("[deident] detector unavailable, failing open: %v", err)
			return text, redact.Mapping{}, nil
		}
		return "", nil, err
	}

	masked, mapping := redact.Apply(text, findings)
	return masked, mapping, nil
}

func (c *Client) inspect(ctx context.Context, text string) ([]redact.Finding, error) {
	payload, err := json.Marshal(inspectRequest{Text: text, Categories: c.categories})
	if err != nil {
		return nil, fmt.Errorf("marshal inspect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetectionUnavailable, resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed inspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDetectionUnavailable, err)
	}

	return parsed.Findings, nil
}
