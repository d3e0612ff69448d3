package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultAnthropicVersion is sent upstream when the client did not pin one.
const defaultAnthropicVersion = "2023-06-01"

// Upstream forwards requests to the LLM provider's messages endpoint,
// injecting the gateway's own API credentials.
type Upstream struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewUpstream creates an Upstream for the given base URL and API key.
func NewUpstream(baseURL, apiKey string, timeout time.Duration) (*Upstream, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("upstream API key is required")
	}
	return &Upstream{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// hopOrPaymentHeaders are never forwarded in either direction: hop-by-hop
// headers per RFC 7230, the client's own credentials, and the payment
// handshake headers which are gateway-terminated.
var hopOrPaymentHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Authorization":       true,
	"X-Api-Key":           true,
	"Payment-Signature":   true,
	"Payment-Required":    true,
	"Payment-Response":    true,
	"Host":                true,
	"Content-Length":      true,
}

// Forward sends the client's request body to the upstream path. The caller's
// context governs the call, so a client disconnect aborts the upstream
// request immediately.
func (u *Upstream) Forward(ctx context.Context, path string, clientHeaders http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}

	for name, values := range clientHeaders {
		if hopOrPaymentHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", u.apiKey)
	if req.Header.Get("Anthropic-Version") == "" {
		req.Header.Set("Anthropic-Version", defaultAnthropicVersion)
	}

	return u.client.Do(req)
}

// relay copies the upstream response to the client writer chunk by chunk,
// flushing after each chunk so streamed responses are not buffered, and
// tees every chunk into the meter. Response headers must already be set;
// relay writes the status code first.
func relay(w http.ResponseWriter, resp *http.Response, tee io.Writer) error {
	for name, values := range resp.Header {
		if hopOrPaymentHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if tee != nil {
				tee.Write(buf[:n])
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Client went away; drain stops here, the upstream
				// request context will cancel the transfer.
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
