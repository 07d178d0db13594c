package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/iotzoo/iotzoo-core/internal/infrastructure/config"
)

const (
	pathAlive                 = "/alive"
	pathDeviceConfig          = "/deviceConfig"
	pathMicrocontrollerConfig = "/microcontrollerConfig"

	// maxResponseSize bounds what is read from a board.
	maxResponseSize = 1 << 20

	defaultTimeout = 5 * time.Second
)

// Client talks to microcontroller web servers.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	port       int
}

// New creates a client using the fallback timeout and port of cfg.
func New(cfg config.SyncConfig) *Client {
	timeout := cfg.GetFallbackTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	port := cfg.FallbackPort
	if port <= 0 {
		port = 80
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		port:       port,
	}
}

// NewWithHTTPClient creates a client with a custom HTTP client and port.
func NewWithHTTPClient(httpClient *http.Client, port int) *Client {
	return &Client{httpClient: httpClient, port: port}
}

// PostDeviceConfig replaces the device configuration of the board at ip.
func (c *Client) PostDeviceConfig(ctx context.Context, ip string, payload []byte) error {
	_, err := c.do(ctx, http.MethodPost, ip, pathDeviceConfig, payload)
	return err
}

// GetDeviceConfig returns the raw device configuration of the board at ip.
func (c *Client) GetDeviceConfig(ctx context.Context, ip string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, ip, pathDeviceConfig, nil)
}

// PostMicrocontrollerConfig sends namespace, project and broker settings.
func (c *Client) PostMicrocontrollerConfig(ctx context.Context, ip string, payload []byte) error {
	_, err := c.do(ctx, http.MethodPost, ip, pathMicrocontrollerConfig, payload)
	return err
}

// Alive probes the board at ip and returns its alive document.
func (c *Client) Alive(ctx context.Context, ip string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, ip, pathAlive, nil)
}

func (c *Client) endpoint(ip, path string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	return "http://" + net.JoinHostPort(addr.String(), strconv.Itoa(c.port)) + path, nil
}

func (c *Client) do(ctx context.Context, method, ip, path string, payload []byte) ([]byte, error) {
	url, err := c.endpoint(ip, path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrRequestFailed, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: HTTP %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
	}
	return data, nil
}
