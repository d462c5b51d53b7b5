// Package rpc is a typed client for the chain simulator's local HTTP API.
//
// Every operation targets http://localhost:{port}. Responses other than
// About are wrapped in an Envelope and validated in a fixed order: send,
// status, read, parse, code and (for reads) data presence. The first
// failing step is reported as an *Error of the matching Kind. Nothing is
// retried.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultTimeout bounds a whole request, including reading the body.
const DefaultTimeout = 30 * time.Second

// Operation names, used in errors and handed to the Observer.
const (
	OpAbout          = "about"
	OpGenerateBlocks = "generate_blocks"
	OpInitialWallets = "initial_wallets"
	OpSetAddressKeys = "set_address_keys"
	OpSetState       = "set_state"
)

// ObserverFunc is told about every completed operation.
type ObserverFunc func(op string, duration time.Duration, err error)

// Client issues control-plane requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	host       string
	observer   ObserverFunc
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Non-positive values disable it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d < 0 {
			d = 0
		}
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithHost overrides "localhost".
func WithHost(host string) Option {
	return func(c *Client) {
		if host != "" {
			c.host = host
		}
	}
}

// WithObserver registers fn to be called after every operation.
func WithObserver(fn ObserverFunc) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		host: "localhost",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root for a simulator listening on port.
func (c *Client) BaseURL(port uint16) string {
	return "http://" + net.JoinHostPort(c.host, strconv.Itoa(int(port)))
}

// About issues GET /about. Any 2xx status is success; the body is ignored.
// It backs the readiness gate.
func (c *Client) About(ctx context.Context, port uint16) (err error) {
	start := time.Now()
	defer func() { c.observe(OpAbout, start, err) }()

	endpoint := c.BaseURL(port) + "/about"
	resp, err := c.do(ctx, OpAbout, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if !isSuccess(resp.StatusCode) {
		return &Error{Op: OpAbout, Kind: KindStatus, URL: endpoint, Status: resp.StatusCode}
	}
	return nil
}

// GenerateBlocks issues POST /simulator/generate-blocks/{n}.
func (c *Client) GenerateBlocks(ctx context.Context, port uint16, n uint64) (err error) {
	start := time.Now()
	defer func() { c.observe(OpGenerateBlocks, start, err) }()

	endpoint := c.BaseURL(port) + "/simulator/generate-blocks/" + strconv.FormatUint(n, 10)
	_, err = call[empty](ctx, c, OpGenerateBlocks, http.MethodPost, endpoint, nil, false)
	return err
}

// InitialWallets issues GET /simulator/initial-wallets. A successful envelope
// with null data is reported as KindNoData.
func (c *Client) InitialWallets(ctx context.Context, port uint16) (wallets *InitialWallets, err error) {
	start := time.Now()
	defer func() { c.observe(OpInitialWallets, start, err) }()

	endpoint := c.BaseURL(port) + "/simulator/initial-wallets"
	return call[InitialWallets](ctx, c, OpInitialWallets, http.MethodGet, endpoint, nil, true)
}

// SetAddressKeys issues POST /simulator/address/{address}/set-state with keys
// as a JSON object.
func (c *Client) SetAddressKeys(ctx context.Context, port uint16, address string, keys map[string]string) (err error) {
	start := time.Now()
	defer func() { c.observe(OpSetAddressKeys, start, err) }()

	endpoint := c.BaseURL(port) + "/simulator/address/" + url.PathEscape(address) + "/set-state"
	if keys == nil {
		keys = map[string]string{}
	}
	body, err := json.Marshal(keys)
	if err != nil {
		return &Error{Op: OpSetAddressKeys, Kind: KindEncode, URL: endpoint, Err: err}
	}
	_, err = call[empty](ctx, c, OpSetAddressKeys, http.MethodPost, endpoint, body, false)
	return err
}

// SetState issues POST /simulator/set-state with entries as a JSON array.
func (c *Client) SetState(ctx context.Context, port uint16, entries []AccountState) (err error) {
	start := time.Now()
	defer func() { c.observe(OpSetState, start, err) }()

	endpoint := c.BaseURL(port) + "/simulator/set-state"
	if entries == nil {
		entries = []AccountState{}
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return &Error{Op: OpSetState, Kind: KindEncode, URL: endpoint, Err: err}
	}
	_, err = call[empty](ctx, c, OpSetState, http.MethodPost, endpoint, body, false)
	return err
}

// call sends one request and validates the envelope. needData turns a null
// data field into KindNoData.
func call[T any](ctx context.Context, c *Client, op, method, endpoint string, body []byte, needData bool) (*T, error) {
	resp, err := c.do(ctx, op, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &Error{Op: op, Kind: KindStatus, URL: endpoint, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindRead, URL: endpoint, Err: err}
	}

	var env Envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Op: op, Kind: KindParse, URL: endpoint, Body: string(raw), Err: err}
	}

	if !env.Succeeded() {
		var cause error
		if env.Error != "" {
			cause = fmt.Errorf("simulator: %s", env.Error)
		}
		return nil, &Error{Op: op, Kind: KindCode, URL: endpoint, Code: env.Code, Err: cause}
	}

	if needData && env.Data == nil {
		return nil, &Error{Op: op, Kind: KindNoData, URL: endpoint}
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindSend, URL: endpoint, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindSend, URL: endpoint, Err: err}
	}
	return resp, nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.observer != nil {
		c.observer(op, time.Since(start), err)
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
