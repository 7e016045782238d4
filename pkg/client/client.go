// Package client provides the Go SDK for the transparency log daemon:
// appending payloads, reading the root, fetching and checking inclusion
// proofs, and listing anchor records.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmerrifield20/realitylog/pkg/verify"
)

// ErrNotFound is returned when the log has no such index.
var ErrNotFound = errors.New("not found")

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// AppendResult is returned by Append.
type AppendResult struct {
	Index uint64 `json:"index"`
	Size  uint64 `json:"size"`
	Leaf  string `json:"leaf"`
	Root  string `json:"root"`
}

// RootResponse is the log's current tree size and root.
type RootResponse struct {
	TreeSize uint64 `json:"tree_size"`
	Root     string `json:"root"`
}

// ProofStep is one audit path entry.
type ProofStep = verify.Step

// Proof is an inclusion proof as served by GET /prove/:index. It is the
// offline verifier's own type, so a fetched proof can be passed straight to
// verify.VerifyProof.
type Proof = verify.Proof

// VerifyResult is the daemon's verdict on a proof.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	ComputedRoot string `json:"computed_root,omitempty"`
	ExpectedRoot string `json:"expected_root,omitempty"`
	Error        string `json:"error,omitempty"`
}

// EntryResult is a stored log entry.
type EntryResult struct {
	Index      uint64    `json:"index"`
	Payload    string    `json:"payload"`
	Leaf       string    `json:"leaf"`
	ReceivedAt time.Time `json:"received_at"`
}

// AnchorRecord is one root checkpoint.
type AnchorRecord struct {
	TreeSize       uint64 `json:"tree_size"`
	Root           string `json:"root"`
	TimestampNanos string `json:"timestamp_nanos"`
	TxID           string `json:"txid"`
}

// Client talks to one log daemon.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithBearerToken attaches a producer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client for the daemon at base.
//
//	c, err := client.New("http://127.0.0.1:8080",
//	    client.WithBearerToken(token),
//	)
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, errors.New("empty log address")
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Append posts payload to /append.
func (c *Client) Append(ctx context.Context, payload string) (*AppendResult, error) {
	var result AppendResult
	if err := c.call(ctx, http.MethodPost, "/append", map[string]string{"payload": payload}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Root fetches the current tree size and root.
func (c *Client) Root(ctx context.Context) (*RootResponse, error) {
	var result RootResponse
	if err := c.call(ctx, http.MethodGet, "/root", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Prove fetches the inclusion proof for index at the current tree size.
func (c *Client) Prove(ctx context.Context, index uint64) (*Proof, error) {
	var result Proof
	if err := c.call(ctx, http.MethodGet, "/prove/"+strconv.FormatUint(index, 10), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Verify asks the daemon to check p. A malformed proof is reported as
// Valid=false with Error set, not as a Go error.
func (c *Client) Verify(ctx context.Context, p *Proof) (*VerifyResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal proof: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/verify", body)
	if err != nil {
		return nil, err
	}
	status, respBody, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusBadRequest {
		return nil, fmt.Errorf("server error %d: %s", status, string(respBody))
	}
	var result VerifyResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &result, nil
}

// Entry fetches the stored entry at index.
func (c *Client) Entry(ctx context.Context, index uint64) (*EntryResult, error) {
	var result EntryResult
	if err := c.call(ctx, http.MethodGet, "/entries/"+strconv.FormatUint(index, 10), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Anchors lists the anchor records kept by the daemon.
func (c *Client) Anchors(ctx context.Context) ([]AnchorRecord, error) {
	var result struct {
		Anchors []AnchorRecord `json:"anchors"`
	}
	if err := c.call(ctx, http.MethodGet, "/anchors", nil, &result); err != nil {
		return nil, err
	}
	return result.Anchors, nil
}

// Health reports whether the daemon answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// call sends reqBody as JSON (when non-nil) and decodes the response into
// respBody (when non-nil).
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		if payload, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if status >= 300 {
		return nil, fmt.Errorf("server error %d: %s", status, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body, error)
// without failing on 4xx responses. The caller interprets the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
