package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

const errorBodyReadLimit = 1024

// Point is one day of unit sales.
type Point struct {
	DS string  `json:"ds"`
	Y  float64 `json:"y"`
}

// DayForecast is the predicted demand for one future day.
type DayForecast struct {
	Date            string  `json:"date"`
	PredictedDemand float64 `json:"predicted_demand"`
	LowerBound      float64 `json:"lower_bound"`
	UpperBound      float64 `json:"upper_bound"`
}

type Request struct {
	ProductID string  `json:"product_id"`
	SalesData []Point `json:"sales_data"`
}

type Response struct {
	ProductID       string        `json:"product_id"`
	Forecasts       []DayForecast `json:"forecasts"`
	ConfidenceLevel string        `json:"confidence_level"`
	GeneratedAt     string        `json:"generated_at"`
}

// Client calls the forecasting service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient returns nil when baseURL is empty so callers fall back to the
// local estimate.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Forecast posts the sales history and returns the service forecast.
func (c *Client) Forecast(ctx context.Context, req Request) (*Response, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "forecast client not configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal forecast request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forecast", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build forecast request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute forecast request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "forecast request failed")
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode forecast response")
	}
	return &out, nil
}
