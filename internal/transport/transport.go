// Package transport wraps outbound HTTP requests with authentication,
// proxies, operator headers, a TLS verification policy and retries.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/takak2166/confluence2local/internal/logger"
)

const (
	DefaultTimeout          = 60 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultRetryMaxDelay    = 10 * time.Second
	DefaultMaxResponseBytes = 512 << 20
	DefaultUserAgent        = "confluence2local/1.0"
)

// Header is a single operator supplied header. Order matters: a later
// entry with the same canonical name replaces an earlier one.
type Header struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

// Config holds the request policy shared by every call.
type Config struct {
	Username string
	Password string

	// Proxies maps a URL scheme ("http", "https") to a proxy URL.
	Proxies map[string]string
	Headers []Header

	// VerifyTLS enables peer certificate verification. It is off by
	// default to work with self-signed and internal CAs.
	VerifyTLS bool

	Timeout           time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RequestsPerSecond float64
	MaxResponseBytes  int64
	UserAgent         string
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs requests. It is safe for concurrent use and shares one
// connection pool between all callers.
type Client struct {
	cfg     Config
	http    *http.Client
	proxies map[string]*url.URL
	limiter *rate.Limiter
}

// New builds a Client from cfg, filling defaults for zero values.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	proxies := make(map[string]*url.URL, len(cfg.Proxies))
	for scheme, raw := range cfg.Proxies {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s proxy: %w", scheme, err)
		}
		proxies[scheme] = u
	}

	c := &Client{cfg: cfg, proxies: proxies}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if !cfg.VerifyTLS {
		logger.Warn("TLS peer certificate verification is disabled")
	}

	c.http = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy: c.proxy,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: !cfg.VerifyTLS,
			},
		},
	}
	return c, nil
}

func (c *Client) proxy(req *http.Request) (*url.URL, error) {
	if u, ok := c.proxies[req.URL.Scheme]; ok {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}

// Get is Do with GET and no body.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, header, nil)
}

// Do sends a request, retrying transient failures with exponential
// backoff. Any non-2xx final status is returned as *Error.
func (c *Client) Do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Response, error) {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.once(ctx, method, rawURL, header, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var te *Error
		if !errors.As(err, &te) {
			return nil, err
		}
		te.Attempts = attempt + 1
		if !retryable(te) || attempt >= c.cfg.MaxRetries {
			return nil, te
		}

		delay := c.backoff(attempt, resp)
		logger.Debug("Retrying request", map[string]interface{}{
			"method":  method,
			"url":     rawURL,
			"attempt": attempt + 1,
			"reason":  te.Kind.String(),
			"status":  te.StatusCode,
			"delay":   delay.String(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// once performs a single attempt. On an HTTP status failure the partially
// filled Response is returned alongside the error so backoff can read
// Retry-After.
func (c *Client) once(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: classify(err), Method: method, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, &Error{Kind: classify(err), Method: method, URL: rawURL, Err: err}
	}
	if int64(len(data)) > c.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, ErrResponseTooLarge)
	}

	logger.Debug("HTTP response", map[string]interface{}{
		"method":   method,
		"url":      rawURL,
		"status":   resp.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start).String(),
	})

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, Method: method, URL: rawURL}
	}
	return out, nil
}

// setHeaders applies defaults, then per call headers, then operator headers.
func (c *Client) setHeaders(req *http.Request, header http.Header) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for name, values := range header {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	for _, h := range c.cfg.Headers {
		req.Header.Set(h.Name, h.Value)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

func (c *Client) backoff(attempt int, resp *Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > c.cfg.RetryMaxDelay {
				d = c.cfg.RetryMaxDelay
			}
			return d
		}
	}
	delay := c.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > c.cfg.RetryMaxDelay || delay <= 0 {
		delay = c.cfg.RetryMaxDelay
	}
	return delay
}
