package ota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Descriptor describes the firmware offered by the update server.
type Descriptor struct {
	Version   string `json:"version"`
	URL       string `json:"url"`
	SHA256    string `json:"sha256"`    // hex digest of the image
	Signature string `json:"signature"` // hex ed25519 signature over the raw digest
}

// Transport talks to the update server.
type Transport interface {
	// FetchDescriptor returns the currently offered firmware.
	FetchDescriptor(ctx context.Context) (Descriptor, error)

	// Download streams the image named by d into w.
	Download(ctx context.Context, d Descriptor, w io.Writer) error
}

// HTTPTransport fetches descriptors and images over HTTP.
type HTTPTransport struct {
	client *http.Client
	url    string
}

// NewHTTPTransport creates a transport for the descriptor at descriptorURL.
// Image URLs in the descriptor may be relative to it.
func NewHTTPTransport(client *http.Client, descriptorURL string) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client, url: descriptorURL}
}

// FetchDescriptor implements Transport.
func (t *HTTPTransport) FetchDescriptor(ctx context.Context) (Descriptor, error) {
	var d Descriptor
	body, err := t.get(ctx, t.url)
	if err != nil {
		return d, err
	}
	defer body.Close()
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&d); err != nil {
		return d, fmt.Errorf("decode descriptor: %w", err)
	}
	return d, nil
}

// Download implements Transport.
func (t *HTTPTransport) Download(ctx context.Context, d Descriptor, w io.Writer) error {
	ref, err := t.resolve(d.URL)
	if err != nil {
		return err
	}
	body, err := t.get(ctx, ref)
	if err != nil {
		return err
	}
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("download %s: %w", ref, err)
	}
	return nil
}

func (t *HTTPTransport) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	return resp.Body, nil
}

func (t *HTTPTransport) resolve(ref string) (string, error) {
	base, err := url.Parse(t.url)
	if err != nil {
		return "", fmt.Errorf("parse descriptor url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	return base.ResolveReference(r).String(), nil
}
