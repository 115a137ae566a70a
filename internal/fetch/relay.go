package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperifyio/goquiz/internal/fault"
)

// RelayRequest is the body POSTed to the relay endpoint.
type RelayRequest struct {
	URL string `json:"url"`
}

// RelayResponse is the relay's reply. The relay answers 200 even when the
// target site failed; Success tells the two apart.
type RelayResponse struct {
	Success     bool   `json:"success"`
	HTML        string `json:"html,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Relay asks a trusted first-party endpoint to fetch the target on our
// behalf.
type Relay struct {
	HTTPClient *http.Client
	// Endpoint is the full URL of the relay's extract route. Empty means no
	// relay is deployed and every call reports RelayUnreachable.
	Endpoint string
	Timeout  time.Duration
}

// Fetch returns the relayed page. Failures reaching the relay are
// fault.RelayUnreachable; failures the relay reports about the target are
// fault.Upstream carrying the relay's message.
func (r *Relay) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if strings.TrimSpace(r.Endpoint) == "" {
		return Page{}, fault.New(fault.RelayUnreachable, errors.New("relay endpoint not configured"))
	}
	timeout := r.Timeout
	if timeout <= 0 {
		// The relay itself spends up to DefaultTimeout on the target.
		timeout = DefaultTimeout + 5*time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(RelayRequest{URL: rawURL})
	if err != nil {
		return Page{}, fault.New(fault.RelayUnreachable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Page{}, fault.New(fault.RelayUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Page{}, fault.New(fault.RelayUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fault.New(fault.RelayUnreachable, fmt.Errorf("relay status: %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*DefaultMaxBytes))
	if err != nil {
		return Page{}, fault.New(fault.RelayUnreachable, fmt.Errorf("read relay body: %w", err))
	}
	var out RelayResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Page{}, fault.New(fault.RelayUnreachable, fmt.Errorf("decode relay body: %w", err))
	}
	if !out.Success {
		return Page{}, fault.FromUpstream(out.Error)
	}
	return Page{
		HTML:        out.HTML,
		ContentType: out.ContentType,
		StatusCode:  out.StatusCode,
		FinalURL:    rawURL,
	}, nil
}
