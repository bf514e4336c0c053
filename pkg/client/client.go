package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to a running snapwatch daemon over its HTTP API
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for a daemon behind a TLS proxy
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
}

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:8765/api"

// APIError is a non-2xx answer from the daemon
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%d, %s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// New creates a new snapwatch API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/entries", nil, nil, nil)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// Entries lists tracked entries with their running state
func (c *Client) Entries(ctx context.Context) ([]Entry, error) {
	var out []Entry
	return out, c.do(ctx, http.MethodGet, "/entries", nil, nil, &out)
}

// Rename changes the process name of a tracked entry
// AddEntry starts tracking e. The daemon persists it when it has a tracking file.
func (c *Client) AddEntry(ctx context.Context, e Entry) (Entry, error) {
	var out Entry
	err := c.do(ctx, http.MethodPost, "/entries", nil, e, &out)
	return out, err
}

func (c *Client) RemoveEntry(ctx context.Context, process string) error {
	return c.do(ctx, http.MethodDelete, "/entries", url.Values{"process": {process}}, nil, nil)
}

func (c *Client) Rename(ctx context.Context, oldName, newName string) error {
	return c.do(ctx, http.MethodPost, "/entries/rename", nil, RenameRequest{Old: oldName, New: newName}, nil)
}

// Backups lists the backups of process, newest first
func (c *Client) Backups(ctx context.Context, process string) ([]Backup, error) {
	var out []Backup
	return out, c.do(ctx, http.MethodGet, "/backups", url.Values{"process": {process}}, nil, &out)
}

// Backup creates a backup of process now
func (c *Client) Backup(ctx context.Context, process string) (Backup, error) {
	var out Backup
	return out, c.do(ctx, http.MethodPost, "/backups", url.Values{"process": {process}}, nil, &out)
}

// Delete removes one backup of process
func (c *Client) Delete(ctx context.Context, process, name string) error {
	q := url.Values{"process": {process}, "name": {name}}
	return c.do(ctx, http.MethodDelete, "/backups", q, nil, nil)
}

// Restore restores a backup of process; an empty name restores the latest
func (c *Client) Restore(ctx context.Context, process, name string) (RestoreResult, error) {
	q := url.Values{"process": {process}}
	if name != "" {
		q.Set("name", name)
	}
	var out RestoreResult
	return out, c.do(ctx, http.MethodPost, "/restore", q, nil, &out)
}

// Processes lists the names of running processes
func (c *Client) Processes(ctx context.Context) ([]string, error) {
	var out []string
	return out, c.do(ctx, http.MethodGet, "/processes", nil, nil, &out)
}

// History returns recent events; an empty process matches all
func (c *Client) History(ctx context.Context, process string, limit int) ([]Event, error) {
	q := url.Values{}
	if process != "" {
		q.Set("process", process)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Event
	return out, c.do(ctx, http.MethodGet, "/history", q, nil, &out)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicitly requested
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath) // #nosec G304 -- path comes from flags
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do performs a request and decodes a JSON answer into out when non-nil
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Kind: errorResp.Kind, Message: errorResp.Error}
}
