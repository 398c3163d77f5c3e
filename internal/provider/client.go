// Package provider submits image-to-video jobs to the generation provider and
// reads their status back in a normalized shape.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrNoJobID = errors.New("provider response has no job id")

const (
	DefaultModel    = "gen3a_turbo"
	DefaultDuration = 5
)

var (
	supportedDurations = []int{5, 10}
	supportedRatios    = map[string][]string{
		"gen3a_turbo": {"1280:768", "768:1280"},
		"gen4_turbo":  {"1280:720", "720:1280", "1104:832", "832:1104", "960:960", "1584:672"},
	}
)

type Config struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	Model      string
	Timeout    time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type JobRequest struct {
	Prompt   string
	Images   []string
	Duration *int
	Ratio    string
	Style    string
}

type promptImage struct {
	URI      string `json:"uri"`
	Position string `json:"position"`
}

type submitBody struct {
	PromptImage any    `json:"promptImage"`
	PromptText  string `json:"promptText,omitempty"`
	Model       string `json:"model"`
	Duration    int    `json:"duration"`
	Ratio       string `json:"ratio"`
	Style       string `json:"style,omitempty"`
}

// Submit starts a generation job and returns the provider's job id.
func (c *Client) Submit(ctx context.Context, req JobRequest) (string, error) {
	if len(req.Images) == 0 {
		return "", errors.New("at least one image is required")
	}
	body := submitBody{
		PromptImage: c.promptImage(req.Images),
		PromptText:  req.Prompt,
		Model:       c.cfg.Model,
		Duration:    c.duration(req.Duration),
		Ratio:       c.ratio(req.Ratio),
		Style:       req.Style,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	var out map[string]any
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/image_to_video", payload, &out); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	id := firstString(out, "id", "taskId", "task_id", "jobId")
	if id == "" {
		return "", ErrNoJobID
	}
	c.log.Info().Str("job_id", id).Str("model", body.Model).Int("duration", body.Duration).Str("ratio", body.Ratio).Int("images", len(req.Images)).Msg("provider job submitted")
	return id, nil
}

// Poll reads the current status of a job.
func (c *Client) Poll(ctx context.Context, jobID string) (JobStatus, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/tasks/"+url.PathEscape(jobID), nil, &out); err != nil {
		return JobStatus{}, fmt.Errorf("poll job %s: %w", jobID, err)
	}
	return normalize(out), nil
}

// promptImage tags two images as first/last frames for interpolation; a single
// image is passed through unchanged. Extra images are ignored.
func (c *Client) promptImage(images []string) any {
	if len(images) == 1 {
		return images[0]
	}
	return []promptImage{
		{URI: images[0], Position: "first"},
		{URI: images[len(images)-1], Position: "last"},
	}
}

func (c *Client) duration(d *int) int {
	if d == nil {
		return DefaultDuration
	}
	if !slices.Contains(supportedDurations, *d) {
		c.log.Warn().Int("requested", *d).Int("used", DefaultDuration).Msg("unsupported duration, using default")
		return DefaultDuration
	}
	return *d
}

func (c *Client) ratio(r string) string {
	ratios, ok := supportedRatios[c.cfg.Model]
	if !ok {
		ratios = supportedRatios[DefaultModel]
	}
	if r == "" {
		return ratios[0]
	}
	if !slices.Contains(ratios, r) {
		c.log.Warn().Str("requested", r).Str("used", ratios[0]).Str("model", c.cfg.Model).Msg("unsupported ratio, using default")
		return ratios[0]
	}
	return r
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.APIVersion != "" {
		req.Header.Set("X-Runway-Version", c.cfg.APIVersion)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d error: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
