package connectors

import (
	"context"
	"net/http"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// dialect describes how one channel type speaks REST. push and parse are
// required; fetch is optional and turns on InventoryReader.
type dialect struct {
	channelType enums.ChannelType
	baseURL     func(Credentials) (string, error)
	headers     func(Credentials) (http.Header, error)
	healthPath  string
	encoding    signatureEncoding
	push        func(ctx context.Context, c *httpClient, creds Credentials, req SyncRequest) (*SyncResponse, error)
	fetch       func(ctx context.Context, c *httpClient, creds Credentials, ids []string) ([]ChannelLevel, error)
	parse       func(payload []byte) (*WebhookEvent, error)
}

type restConnector struct {
	dialect dialect
	creds   Credentials
	client  *httpClient
}

// readingConnector is a restConnector whose dialect can pull levels.
type readingConnector struct {
	*restConnector
}

func newRESTConnector(d dialect, creds Credentials, opts ClientOptions) (Connector, error) {
	base := opts.BaseURL
	if base == "" {
		var err error
		if base, err = d.baseURL(creds); err != nil {
			return nil, err
		}
	}
	headers, err := d.headers(creds)
	if err != nil {
		return nil, err
	}
	rc := &restConnector{
		dialect: d,
		creds:   creds,
		client:  newHTTPClient(base, headers, opts),
	}
	if d.fetch != nil {
		return &readingConnector{rc}, nil
	}
	return rc, nil
}

func (c *restConnector) HealthCheck(ctx context.Context) HealthStatus {
	if err := c.client.do(ctx, http.MethodGet, c.dialect.healthPath, nil, nil, nil); err != nil {
		return HealthStatus{Status: HealthUnhealthy, Error: err.Error() + causeSuffix(err)}
	}
	return HealthStatus{Status: HealthHealthy}
}

func (c *restConnector) SyncInventory(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	if len(req.Updates) == 0 {
		return &SyncResponse{Success: true}, nil
	}
	resp, err := c.dialect.push(ctx, c.client, c.creds, req)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeConnector, err, "push inventory")
	}
	resp.Success = resp.Failed == 0 && resp.Error == ""
	return resp, nil
}

func (c *restConnector) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	return validateHMAC(payload, signature, secret, c.dialect.encoding)
}

func (c *restConnector) ProcessWebhook(_ context.Context, payload []byte) (*WebhookEvent, error) {
	if len(payload) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload is empty")
	}
	event, err := c.dialect.parse(payload)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	event.ChannelType = c.dialect.channelType
	return event, nil
}

func (c *readingConnector) FetchInventory(ctx context.Context, externalIDs []string) ([]ChannelLevel, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	return c.dialect.fetch(ctx, c.client, c.creds, externalIDs)
}

func causeSuffix(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Unwrap() == nil {
		return ""
	}
	return " (" + typed.Unwrap().Error() + ")"
}

// tally folds per-line outcomes into a response. Credential and throttling
// errors abort the batch since every later line would fail the same way.
type tally struct {
	resp SyncResponse
}

func (t *tally) record(err error) error {
	t.resp.TotalProcessed++
	if err == nil {
		t.resp.Successful++
		return nil
	}
	if pkgerrors.Is(err, pkgerrors.CodeCredential) || pkgerrors.Is(err, pkgerrors.CodeRateLimit) {
		return err
	}
	t.resp.Failed++
	if t.resp.Error == "" {
		t.resp.Error = err.Error() + causeSuffix(err)
	}
	return nil
}

func (t *tally) fail(msg string) {
	t.resp.TotalProcessed++
	t.resp.Failed++
	if t.resp.Error == "" {
		t.resp.Error = msg
	}
}

func (t *tally) result() *SyncResponse {
	out := t.resp
	return &out
}
