// Package shortener wraps the link-shortening service. It is best-effort: every
// failure falls back to the original URL.
package shortener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type shortenResp struct {
	ShortURL string `json:"shortUrl"`
}

// Shorten returns a short link for longURL, or longURL itself if the service
// cannot produce one. It never fails and never retries.
func (c *Client) Shorten(ctx context.Context, longURL string) (string, bool) {
	short, err := c.shorten(ctx, longURL)
	if err != nil {
		c.log.Warn().Err(err).Str("url", longURL).Msg("url shortening failed, using original url")
		return longURL, false
	}
	return short, true
}

func (c *Client) shorten(ctx context.Context, longURL string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("shortener not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/shorten?url="+url.QueryEscape(longURL), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("shortener HTTP %d", resp.StatusCode)
	}
	var out shortenResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode shortener response: %w", err)
	}
	if out.ShortURL == "" {
		return "", fmt.Errorf("shortener response has no shortUrl")
	}
	return out.ShortURL, nil
}
