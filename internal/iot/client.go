package iot

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

	"github.com/failsafe-go/failsafe-go"
	"go.uber.org/zap"
)

// AccountTypeUser is the account flag sent on login
const AccountTypeUser = "user"

const (
	pathLogin    = "/api/user/login"
	pathProjects = "/api/project/list"
	pathMeters   = "/api/meter/list"
	pathInfo     = "/api/meter/info"
	pathControl  = "/api/meter/control"
	pathSales    = "/api/meter/sales"
	pathEnergy   = "/api/meter/energy"
	pathRecharge = "/api/meter/recharge"
)

// Client issues authenticated requests to the meter platform
//
// Reads go through the retrying executor. Meter info, control and recharge
// are sent exactly once: the first is the sync path, the other two are not
// idempotent on the platform.
type Client struct {
	baseURL  string
	client   *http.Client
	retrying failsafe.Executor[*http.Response]
	single   failsafe.Executor[*http.Response]
	logger   *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// WithMaxRetries sets how often failed reads are retried
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.retrying = newHTTPExecutor(n)
	}
}

// NewClient creates a platform client
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
	c.retrying = newHTTPExecutor(0)
	c.single = newHTTPExecutor(0)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, executor failsafe.Executor[*http.Response], build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	return executeHTTP(ctx, executor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if shouldRetry(resp, err) && resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return resp, err
	})
}

// call performs one request and decodes the normalized data into out
func (c *Client) call(ctx context.Context, executor failsafe.Executor[*http.Response], method, path string, query url.Values, body any, token string, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := c.do(ctx, executor, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("token", token)
		}
		return req, nil
	})
	if err != nil {
		c.logger.Debug("iot request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Path: path, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: failed to read body: %v", ErrUpstream, path, err)
	}

	env, err := normalize(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !env.OK {
		return &APIError{Path: path, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || isNull(env.Data) {
		return nil
	}
	switch dst := out.(type) {
	case *json.RawMessage:
		*dst = env.Data
		return nil
	default:
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: %s: failed to decode data: %v", ErrUpstream, path, err)
		}
	}
	return nil
}

// Login exchanges credentials for a session token
func (c *Client) Login(ctx context.Context, username, passwordHash string) (string, error) {
	body := map[string]string{
		"username": username,
		"password": passwordHash,
		"type":     AccountTypeUser,
	}

	var data json.RawMessage
	if err := c.call(ctx, c.retrying, http.MethodPost, pathLogin, nil, body, "", &data); err != nil {
		return "", err
	}

	var token string
	if err := json.Unmarshal(data, &token); err != nil || token == "" {
		var wrapped struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return "", fmt.Errorf("%w: %s: failed to decode token: %v", ErrUpstream, pathLogin, err)
		}
		token = wrapped.Token
	}
	if token == "" {
		return "", &APIError{Path: pathLogin, Message: "empty token"}
	}
	return token, nil
}

// Projects lists every project visible to the token
func (c *Client) Projects(ctx context.Context, token string) ([]Project, error) {
	var data json.RawMessage
	if err := c.call(ctx, c.retrying, http.MethodGet, pathProjects, nil, nil, token, &data); err != nil {
		return nil, err
	}
	projects, err := decodeList[Project](data, c.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, pathProjects, err)
	}
	return projects, nil
}

// Meters lists the meters of one project
func (c *Client) Meters(ctx context.Context, projectID, token string) ([]RawMeter, error) {
	var data json.RawMessage
	query := url.Values{"projectId": {projectID}}
	if err := c.call(ctx, c.retrying, http.MethodGet, pathMeters, query, nil, token, &data); err != nil {
		return nil, err
	}
	meters, err := decodeList[RawMeter](data, c.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, pathMeters, err)
	}
	return meters, nil
}

// MeterInfo fetches live telemetry of one meter
func (c *Client) MeterInfo(ctx context.Context, meterID, token string) (*RawMeter, error) {
	var data json.RawMessage
	query := url.Values{"meterId": {meterID}}
	if err := c.call(ctx, c.single, http.MethodGet, pathInfo, query, nil, token, &data); err != nil {
		return nil, err
	}
	var meter RawMeter
	if len(data) > 0 {
		if err := decodeItem(data, &meter, c.logger); err != nil {
			return nil, fmt.Errorf("%w: %s: failed to decode data: %v", ErrUpstream, pathInfo, err)
		}
	}
	return &meter, nil
}

// Control switches a meter between prepaid and forced modes
func (c *Client) Control(ctx context.Context, meterID, action, token string) error {
	code, err := controlCode(action)
	if err != nil {
		return err
	}
	body := map[string]any{"meterId": meterID, "type": code}
	return c.call(ctx, c.single, http.MethodPost, pathControl, nil, body, token, nil)
}

// Sales lists sales of one meter between start and end ("YYYY-MM-DD HH:MM:SS")
func (c *Client) Sales(ctx context.Context, meterID, start, end, token string) ([]SaleRecord, error) {
	var data json.RawMessage
	query := url.Values{"meterId": {meterID}, "startTime": {start}, "endTime": {end}}
	if err := c.call(ctx, c.retrying, http.MethodGet, pathSales, query, nil, token, &data); err != nil {
		return nil, err
	}
	sales, err := decodeList[SaleRecord](data, c.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, pathSales, err)
	}
	return sales, nil
}

// Energy lists consumption records of one meter between start and end
func (c *Client) Energy(ctx context.Context, meterID, start, end, token string) ([]EnergyRecord, error) {
	var data json.RawMessage
	query := url.Values{"meterId": {meterID}, "startTime": {start}, "endTime": {end}}
	if err := c.call(ctx, c.retrying, http.MethodGet, pathEnergy, query, nil, token, &data); err != nil {
		return nil, err
	}
	records, err := decodeList[EnergyRecord](data, c.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, pathEnergy, err)
	}
	return records, nil
}

// Recharge credits a meter with amount naira and returns the platform sale id
func (c *Client) Recharge(ctx context.Context, meterID string, amount float64, token string) (string, error) {
	body := map[string]any{"meterId": meterID, "money": amount}

	var data struct {
		SaleID ID `json:"saleId"`
	}
	if err := c.call(ctx, c.single, http.MethodPost, pathRecharge, nil, body, token, &data); err != nil {
		return "", err
	}
	if data.SaleID == "" {
		return "", &APIError{Path: pathRecharge, Message: "missing sale id"}
	}
	return data.SaleID.String(), nil
}
