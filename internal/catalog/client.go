// Package catalog talks to the vehicle data service: item attributes, photo
// galleries, and single-field updates.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vidflow/internal/domain"
)

var ErrNotFound = errors.New("vehicle not found")

// StatusError is returned for any non-2xx response other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog HTTP %d: %s", e.Code, e.Body)
}

// Auth is the caller identity forwarded to the catalog on every request.
type Auth struct {
	Token   string
	Country string
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Vehicle(ctx context.Context, auth Auth, id string) (domain.Vehicle, error) {
	raw, err := c.record(ctx, auth, id)
	if err != nil {
		return domain.Vehicle{}, err
	}
	return parseVehicle(id, raw), nil
}

func (c *Client) Gallery(ctx context.Context, auth Auth, id string) ([]domain.Image, error) {
	var images []domain.Image
	if err := c.do(ctx, auth, http.MethodGet, c.vehicleURL(id, auth, "gallery"), nil, &images); err != nil {
		return nil, fmt.Errorf("fetch gallery for %s: %w", id, err)
	}
	out := images[:0]
	for _, img := range images {
		if img.URL != "" {
			out = append(out, img)
		}
	}
	return out, nil
}

// UpdateField reads the full record, sets field locally and writes the whole
// record back. There is no concurrency token: a write made by someone else
// between the read and the write is silently overwritten.
func (c *Client) UpdateField(ctx context.Context, auth Auth, id, field string, value any) error {
	raw, err := c.record(ctx, auth, id)
	if err != nil {
		return err
	}
	raw[field] = value
	body, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode vehicle %s: %w", id, err)
	}
	if err := c.do(ctx, auth, http.MethodPut, c.vehicleURL(id, auth, ""), body, nil); err != nil {
		return fmt.Errorf("update vehicle %s: %w", id, err)
	}
	return nil
}

func (c *Client) record(ctx context.Context, auth Auth, id string) (map[string]any, error) {
	var raw map[string]any
	if err := c.do(ctx, auth, http.MethodGet, c.vehicleURL(id, auth, ""), nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch vehicle %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("fetch vehicle %s: empty record", id)
	}
	return raw, nil
}

func (c *Client) vehicleURL(id string, auth Auth, sub string) string {
	u := c.baseURL + "/vehicles/" + url.PathEscape(id)
	if sub != "" {
		u += "/" + sub
	}
	if auth.Country != "" {
		u += "?country=" + url.QueryEscape(auth.Country)
	}
	return u
}

func (c *Client) do(ctx context.Context, auth Auth, method, u string, body []byte, out any) error {
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
	if auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Token)
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
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseVehicle(id string, raw map[string]any) domain.Vehicle {
	return domain.Vehicle{
		ID:           id,
		Make:         str(raw, "make", "brand"),
		Model:        str(raw, "model"),
		Version:      str(raw, "version", "trim"),
		Year:         int(num(raw, "year")),
		Color:        str(raw, "color", "colour"),
		Mileage:      int(num(raw, "mileage", "kilometers", "km")),
		Price:        num(raw, "price"),
		Currency:     str(raw, "currency"),
		FuelType:     str(raw, "fuelType", "fuel_type", "fuel"),
		Transmission: str(raw, "transmission", "gearbox"),
		BodyType:     str(raw, "bodyType", "body_type"),
		Raw:          raw,
	}
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}
