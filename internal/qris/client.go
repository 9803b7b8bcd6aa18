package qris

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// maxErrorBody bounds how much of a failed reply is kept for diagnostics.
const maxErrorBody = 512

// Client replays the portal's internal transaction-fetch call directly,
// bypassing the rendered UI. It holds no session state of its own; every
// call takes the header set to replay with.
type Client struct {
	http *resty.Client
}

type ClientOption func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// NewClient builds a replay client against the portal's API origin.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	hc := resty.New()
	hc.SetBaseURL(baseURL)
	hc.SetTimeout(30 * time.Second)

	// Never follow a redirect off the portal host; a bounce to an SSO or
	// error host must surface as a failure, not be silently chased.
	if parsed, err := url.Parse(baseURL); err == nil && parsed.Hostname() != "" {
		hc.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsed.Hostname()))
	}

	c := &Client{http: hc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchTransactions replays the transaction-fetch call for an inclusive
// date range and returns every detail record in the response envelope.
// The header set is validated before any network I/O and re-filtered to the
// whitelist so the request is indistinguishable from the browser's own.
func (c *Client) FetchTransactions(ctx context.Context, hs HeaderSet, dr DateRange) ([]Detail, error) {
	if err := hs.Validate(); err != nil {
		return nil, err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeaders(hs.Whitelisted()).
		SetQueryParams(map[string]string{
			QueryStartDate:      dr.Start,
			QueryEndDate:        dr.End,
			QueryLimitValidated: "false",
		}).
		Get(TransactionsPath)
	if err != nil {
		return nil, fmt.Errorf("transaction fetch: %w", err)
	}

	if !res.IsSuccess() {
		return nil, &APIError{
			StatusCode: res.StatusCode(),
			Body:       truncate(res.String(), maxErrorBody),
		}
	}

	var envelope any
	if err := json.Unmarshal(res.Body(), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	raw := CollectDetails(envelope)
	details := make([]Detail, 0, len(raw))
	for _, m := range raw {
		details = append(details, DetailFromMap(m))
	}
	return details, nil
}

// RefreshToken rotates the short-lived secret token without a browser
// round-trip. The portal requires the session item for this call; the
// returned token replaces the one in the caller's header set.
func (c *Client) RefreshToken(ctx context.Context, hs HeaderSet) (string, error) {
	if err := hs.Validate(); err != nil {
		return "", err
	}
	if hs.Get(HeaderSessionItem) == "" {
		return "", fmt.Errorf("%w: token refresh requires %s", ErrInvalidHeaders, HeaderSessionItem)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeaders(hs.Whitelisted()).
		Post(RefreshPath)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}

	if !res.IsSuccess() {
		return "", &APIError{
			StatusCode: res.StatusCode(),
			Body:       truncate(res.String(), maxErrorBody),
		}
	}

	var payload struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.Result == "" {
		return "", fmt.Errorf("%w: refresh reply carries no token", ErrMalformedResponse)
	}
	return payload.Result, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
