// Package transport is the coordinator-side HTTP client for talking to
// storage nodes: pooled connections, bounded retries on transient
// failures, and optional xz compression for large block bodies.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/lucidgrid/raidfive/internal/wire"
)

// Client talks to one storage node over HTTP. It is immutable after
// construction; callers build one per node endpoint and reuse it for the
// node's lifetime in the cluster config.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	compress    bool
	compressMin int64
	log         *logrus.Logger
}

// Config configures a Client. MaxAttempts counts the first try plus
// retries, so MaxAttempts=3 means at most 2 retries.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	MaxConnsPerHost int
	Compress        bool
	CompressMinSize int64
	Logger          *logrus.Logger
}

// New builds a Client from cfg, applying sane defaults for anything left
// zero.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConnsPerHost < 1 {
		cfg.MaxConnsPerHost = 16
	}
	if cfg.CompressMinSize <= 0 {
		cfg.CompressMinSize = 8 * 1024
	}

	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		compress:    cfg.Compress,
		compressMin: cfg.CompressMinSize,
		log:         cfg.Logger,
	}
}

// BaseURL returns the node endpoint this client was built for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StoreBlock uploads a block's payload with its metadata header.
func (c *Client) StoreBlock(ctx context.Context, req wire.BlockRequest, payload []byte) (wire.BlockResponse, error) {
	body := payload
	if c.compress && int64(len(payload)) >= c.compressMin {
		compressed, err := compress(payload)
		if err == nil && len(compressed) < len(payload) {
			body = compressed
			req.Compressed = true
		}
	}

	headerJSON, err := json.Marshal(req)
	if err != nil {
		return wire.BlockResponse{}, fmt.Errorf("transport: marshal header: %w", err)
	}

	var resp wire.BlockResponse
	err = c.doWithRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/blocks", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set(wire.HeaderBlockHeader, string(headerJSON))
		httpReq.Header.Set("Content-Type", "application/octet-stream")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retryable(err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode >= 500 {
			return retryable(fmt.Errorf("transport: node returned %d", httpResp.StatusCode))
		}
		return decodeJSON(httpResp, &resp)
	})
	return resp, err
}

// RetrieveBlock downloads a block's payload and metadata.
func (c *Client) RetrieveBlock(ctx context.Context, blockID string) ([]byte, wire.BlockResponse, error) {
	var payload []byte
	var resp wire.BlockResponse

	err := c.doWithRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/blocks/"+blockID, nil)
		if err != nil {
			return err
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retryable(err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode == http.StatusNotFound {
			resp = wire.BlockResponse{OK: false, Error: "not found"}
			return nil
		}
		if httpResp.StatusCode >= 500 {
			return retryable(fmt.Errorf("transport: node returned %d", httpResp.StatusCode))
		}

		headerJSON := httpResp.Header.Get(wire.HeaderBlockHeader)
		if err := json.Unmarshal([]byte(headerJSON), &resp); err != nil {
			return fmt.Errorf("transport: decode header: %w", err)
		}

		raw, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		if resp.Compressed {
			raw, err = decompress(raw)
			if err != nil {
				return fmt.Errorf("transport: decompress: %w", err)
			}
		}
		payload = raw
		return nil
	})
	return payload, resp, err
}

// DeleteBlock removes a block from the node.
func (c *Client) DeleteBlock(ctx context.Context, blockID string) (wire.BlockResponse, error) {
	var resp wire.BlockResponse
	err := c.doWithRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/blocks/"+blockID, nil)
		if err != nil {
			return err
		}
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retryable(err)
		}
		defer httpResp.Body.Close()
		if httpResp.StatusCode >= 500 {
			return retryable(fmt.Errorf("transport: node returned %d", httpResp.StatusCode))
		}
		return decodeJSON(httpResp, &resp)
	})
	return resp, err
}

// BlockExists checks whether a block is present on the node.
func (c *Client) BlockExists(ctx context.Context, blockID string) (bool, error) {
	var resp wire.BlockResponse
	err := c.doWithRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/blocks/"+blockID, nil)
		if err != nil {
			return err
		}
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retryable(err)
		}
		defer httpResp.Body.Close()
		resp.Exists = httpResp.StatusCode == http.StatusOK
		resp.OK = true
		if httpResp.StatusCode >= 500 {
			return retryable(fmt.Errorf("transport: node returned %d", httpResp.StatusCode))
		}
		return nil
	})
	return resp.Exists, err
}

// ListBlocks enumerates every block the node holds.
func (c *Client) ListBlocks(ctx context.Context) (wire.ListBlocksResponse, error) {
	var resp wire.ListBlocksResponse
	err := c.doWithRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/blocks", nil)
		if err != nil {
			return err
		}
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retryable(err)
		}
		defer httpResp.Body.Close()
		if httpResp.StatusCode >= 500 {
			return retryable(fmt.Errorf("transport: node returned %d", httpResp.StatusCode))
		}
		return decodeJSON(httpResp, &resp)
	})
	return resp, err
}

// NodeInfo probes /info for current usage statistics.
func (c *Client) NodeInfo(ctx context.Context) (wire.NodeInfoResponse, error) {
	var resp wire.NodeInfoResponse
	err := c.doWithRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
		if err != nil {
			return err
		}
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retryable(err)
		}
		defer httpResp.Body.Close()
		if httpResp.StatusCode >= 500 {
			return retryable(fmt.Errorf("transport: node returned %d", httpResp.StatusCode))
		}
		return decodeJSON(httpResp, &resp)
	})
	return resp, err
}

// Health probes /health, the cheapest possible liveness check. Unlike the
// other methods it does not retry — the health monitor calls this on its
// own interval and treats any single failure as informative.
func (c *Client) Health(ctx context.Context) (wire.HealthResponse, time.Duration, error) {
	var resp wire.HealthResponse
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return resp, 0, err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return resp, time.Since(start), err
	}
	defer httpResp.Body.Close()

	latency := time.Since(start)
	if httpResp.StatusCode != http.StatusOK {
		return resp, latency, fmt.Errorf("transport: health check returned %d", httpResp.StatusCode)
	}
	return resp, latency, decodeJSON(httpResp, &resp)
}

type retryableError struct{ err error }

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

func retryable(err error) error { return &retryableError{err} }

// doWithRetry runs op up to c.maxAttempts times, sleeping c.retryDelay
// between attempts, but only retries errors op marked retryable — a
// client-side (4xx) failure is final on the first try.
func (c *Client) doWithRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		var re *retryableError
		if !asRetryable(err, &re) {
			return err
		}

		if attempt == c.maxAttempts {
			break
		}
		c.log.WithError(err).WithField("attempt", attempt).Warn("transport: retrying after transient failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return lastErr
}

func asRetryable(err error, target **retryableError) bool {
	for err != nil {
		if re, ok := err.(*retryableError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func decodeJSON(resp *http.Response, out any) error {
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
