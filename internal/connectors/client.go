package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

const (
	defaultRatePerMin  = 120
	defaultHTTPTimeout = 30 * time.Second
	errorBodyReadLimit = 1024
)

// ClientOptions tunes the HTTP client shared by every dialect.
type ClientOptions struct {
	HTTPClient *http.Client
	RatePerMin int
	Timeout    time.Duration
	// BaseURL overrides the dialect default. Used by tests.
	BaseURL string
}

// httpClient is a JSON REST client throttled to a fixed request rate.
type httpClient struct {
	baseURL string
	headers http.Header
	http    *http.Client
	limiter *rate.Limiter
}

func newHTTPClient(baseURL string, headers http.Header, opts ClientOptions) *httpClient {
	perMin := opts.RatePerMin
	if perMin <= 0 {
		perMin = defaultRatePerMin
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	interval := time.Minute / time.Duration(perMin)
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		http:    client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// do sends body as JSON and decodes a 2xx response into out when non-nil.
// Authentication failures map to CodeCredential, throttling to CodeRateLimit
// and everything else to CodeConnector.
func (c *httpClient) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConnector, err, "connector rate limit wait")
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode connector request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConnector, err, "build connector request")
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConnector, err, "execute connector request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		code := pkgerrors.CodeConnector
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			code = pkgerrors.CodeCredential
		case http.StatusTooManyRequests:
			code = pkgerrors.CodeRateLimit
		}
		return pkgerrors.Wrap(code, cause, "connector request failed").
			WithDetails(map[string]any{"status": resp.StatusCode, "path": path})
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConnector, err, "decode connector response")
	}
	return nil
}
