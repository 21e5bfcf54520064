package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callcenter/internal/config"
	"callcenter/internal/domain"
	"callcenter/internal/metrics"

	twiliogo "github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const defaultAPIBase = "https://api.twilio.com"

var ErrNotConfigured = errors.New("twilio REST client is not configured")

// APIError is the error body returned by the Twilio REST API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("twilio http %d", e.Status)
	}
	return fmt.Sprintf("twilio http %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Client talks to the Calls resource of the Twilio REST API.
type Client struct {
	accountSID string
	username   string
	from       string
	rest       *twiliogo.RestClient
}

var _ domain.VoiceProvider = (*Client)(nil)

// NewClient builds a client from config. It authenticates with the account
// auth token when set, otherwise with the API key pair.
func NewClient(cfg config.TwilioConfig) *Client {
	c := &Client{accountSID: cfg.AccountSID, from: cfg.FromNumber}

	var password string
	if cfg.RESTConfigured() {
		if cfg.AuthToken != "" {
			c.username, password = cfg.AccountSID, cfg.AuthToken
		} else {
			c.username, password = cfg.APIKeySID, cfg.APIKeySecret
		}
	}

	httpClient := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if base := strings.TrimRight(cfg.APIBaseURL, "/"); base != "" && base != defaultAPIBase {
		if target, err := url.Parse(base); err == nil {
			httpClient.Transport = &rebaseTransport{target: target, next: http.DefaultTransport}
		}
	}

	base := &client.Client{
		Credentials: client.NewCredentials(c.username, password),
		HTTPClient:  httpClient,
	}
	base.SetAccountSid(cfg.AccountSID)
	c.rest = twiliogo.NewRestClientWithParams(twiliogo.ClientParams{Client: base})
	return c
}

// Configured reports whether calls can be placed.
func (c *Client) Configured() bool {
	return c != nil && c.accountSID != "" && c.username != "" && c.from != ""
}

// CreateCall places an outbound call and returns its sid. An empty From
// uses the configured number.
func (c *Client) CreateCall(ctx context.Context, req domain.CallRequest) (sid string, err error) {
	defer func() { metrics.IncTwilio("create_call", err) }()

	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	from := req.From
	if from == "" {
		from = c.from
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(strings.TrimSpace(req.To))
	params.SetFrom(from)
	params.SetUrl(req.URL)
	params.SetMethod(method)

	call, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return "", asAPIError(err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return "", errors.New("twilio returned no call sid")
	}
	return *call.Sid, nil
}

// UpdateCall redirects a live call to new TwiML or changes its status.
func (c *Client) UpdateCall(ctx context.Context, sid string, upd domain.CallUpdate) (err error) {
	op := "update_call"
	if upd.Status != "" {
		op = "complete_call"
	}
	defer func() { metrics.IncTwilio(op, err) }()

	if !c.Configured() {
		return ErrNotConfigured
	}
	if sid == "" {
		return errors.New("call sid is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.UpdateCallParams{}
	if upd.URL != "" {
		method := upd.Method
		if method == "" {
			method = http.MethodPost
		}
		params.SetUrl(upd.URL)
		params.SetMethod(method)
	}
	if upd.Status != "" {
		params.SetStatus(upd.Status)
	}
	if _, err := c.rest.Api.UpdateCall(sid, params); err != nil {
		return asAPIError(err)
	}
	return nil
}

// asAPIError flattens the SDK error so callers can match on the HTTP status.
func asAPIError(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		return &APIError{Status: restErr.Status, Code: restErr.Code, Message: restErr.Message}
	}
	return err
}

// rebaseTransport sends SDK requests to a non-default API host.
type rebaseTransport struct {
	target *url.URL
	next   http.RoundTripper
}

func (t *rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.URL.Path = strings.TrimRight(t.target.Path, "/") + req.URL.Path
	out.Host = t.target.Host
	return t.next.RoundTrip(out)
}
