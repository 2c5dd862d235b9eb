// Package bgremove strips image backgrounds through an external service.
//
// Client talks to the tool's own /api/bg-remove route. Provider is what that
// route calls upstream: a remove.bg compatible API.
package bgremove

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrUnavailable covers every way a removal can fail. Callers only learn that
// no image came back.
var ErrUnavailable = errors.New("background removal unavailable")

const maxResponseBytes = 64 << 20

// Remover returns the foreground of an image with a transparent background.
type Remover interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
}

// Client posts raw image bytes to a bg-remove endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Remove(ctx context.Context, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	return readImage(c.httpClient.Do(req))
}

// Provider calls a remove.bg compatible upstream.
type Provider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type ProviderConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

func NewProvider(cfg ProviderConfig) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an upstream key is set.
func (p *Provider) Configured() bool {
	return p != nil && p.apiKey != "" && p.endpoint != ""
}

func (p *Provider) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("%w: no upstream configured", ErrUnavailable)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image_file", "image")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := mw.WriteField("size", "auto"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Api-Key", p.apiKey)

	return readImage(p.httpClient.Do(req))
}

func readImage(resp *http.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnavailable)
	}
	return out, nil
}
