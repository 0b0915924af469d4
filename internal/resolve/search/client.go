package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds the settings shared by the HTTP-backed providers.
type ClientConfig struct {
	BaseURL   string
	UserAgent string
	Rows      int
	Timeout   time.Duration
}

// UserAgent builds a Crossref etiquette header: "app/version (mailto:addr)".
func UserAgent(app, version, mailto string) string {
	ua := app
	if version != "" {
		ua += "/" + version
	}
	if mailto != "" {
		ua += " (mailto:" + mailto + ")"
	}
	return ua
}

type httpClient struct {
	providerID string
	userAgent  string
	do         HTTPDoer
}

func newHTTPClient(providerID string, cfg ClientConfig, doer HTTPDoer) httpClient {
	if doer == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	return httpClient{providerID: providerID, userAgent: cfg.UserAgent, do: doer}
}

// getJSON issues a GET and decodes a 2xx body into out. Every failure comes
// back as a *ProviderError.
func (c httpClient) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return NewProviderError(ErrorInternal, c.providerID, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.do.Do(req)
	if err != nil {
		return NewProviderError(categorizeTransport(err), c.providerID, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if b := strings.TrimSpace(string(body)); b != "" {
			msg += ": " + b
		}
		return NewProviderError(categorizeStatus(resp.StatusCode), c.providerID, msg, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewProviderError(ErrorBadData, c.providerID, "decode response", err)
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
