// Package device sends switching requests to the microcontroller.
//
// The microcontroller is reached over HTTPS through a public tunnel that
// presents a self-signed certificate, so certificate validation is disabled.
// Every call is a single GET with no retries; failures are reported as a
// DispatchResult, never as an error.
package device

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rkmjld2/mahajan-remote2/internal/message"
	"github.com/rkmjld2/mahajan-remote2/internal/proxy"
)

// Timeout bounds every request to the device.
const Timeout = 10 * time.Second

// maxBody caps how much of the device response is read.
const maxBody = 64 << 10

// Client issues requests to one device host.
type Client struct {
	scheme string
	host   string
	http   *http.Client
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the default HTTP client. The caller is then
// responsible for TLS settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.http = hc
		return nil
	}
}

// WithScheme overrides the request scheme ("https" by default).
func WithScheme(scheme string) Option {
	return func(c *Client) error {
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("unsupported scheme %q", scheme)
		}
		c.scheme = scheme
		return nil
	}
}

// WithProxy routes device traffic through a SOCKS5 proxy at addr.
func WithProxy(addr string) Option {
	return func(c *Client) error {
		if addr == "" {
			return nil
		}
		transport, err := proxy.NewTransport(addr, insecureTLS())
		if err != nil {
			return err
		}
		c.http = &http.Client{Transport: transport, Timeout: Timeout}
		return nil
	}
}

// New creates a client for host (domain only, e.g. "abcd.ngrok-free.app").
func New(host string, opts ...Option) (*Client, error) {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")

	transport, err := proxy.NewTransport("", insecureTLS())
	if err != nil {
		return nil, err
	}

	c := &Client{
		scheme: "https",
		host:   strings.TrimRight(host, "/"),
		http:   &http.Client{Transport: transport, Timeout: Timeout},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("device client: %w", err)
		}
	}
	return c, nil
}

// Host returns the normalised device host.
func (c *Client) Host() string { return c.host }

// URL returns the full request target for path.
func (c *Client) URL(path string) string {
	return c.scheme + "://" + c.host + path
}

// Send performs one GET of path and classifies the outcome:
// status 200 succeeds with the trimmed body, any other status fails with
// "HTTP <status> – <body>", and transport errors fail with
// "Connection failed: <error>". Paths outside the device's route set are
// refused without a request.
func (c *Client) Send(ctx context.Context, path string) message.DispatchResult {
	if !message.ValidPath(path) {
		slog.Warn("refusing unsupported device route", "path", path)
		return message.DispatchResult{OK: false, Message: fmt.Sprintf("Unsupported route %q", path)}
	}

	target := c.URL(path)
	logger := slog.With("target", target)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return message.DispatchResult{OK: false, Message: "Connection failed: " + err.Error()}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn("device request failed", "error", err, "duration", time.Since(start))
		return message.DispatchResult{OK: false, Message: "Connection failed: " + err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		logger.Warn("reading device response failed", "error", err)
		return message.DispatchResult{OK: false, Message: "Connection failed: " + err.Error()}
	}
	body := strings.TrimSpace(string(data))

	logger.Info("device responded", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return message.DispatchResult{OK: false, Message: fmt.Sprintf("HTTP %d – %s", resp.StatusCode, body)}
	}
	return message.DispatchResult{OK: true, Message: body}
}

// Probe checks that the device answers its health route.
func (c *Client) Probe(ctx context.Context) error {
	res := c.Send(ctx, message.HealthPath)
	if !res.OK {
		return fmt.Errorf("device unreachable: %s", res.Message)
	}
	return nil
}

func insecureTLS() *tls.Config {
	// The tunnel endpoint presents a self-signed certificate.
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec
}
