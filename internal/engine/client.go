package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doorbridge/doorbridge/internal/errs"
)

// Client is the REST surface over the telephony engine's control API
// (§6): bridges, channels, originate, endpoint subscription.
type Client struct {
	httpClient *http.Client
	baseURL    string
	user       string
	password   string
	appName    string
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	User     string
	Password string
	AppName  string
	Timeout  time.Duration
}

// New creates a Client against the telephony engine's REST base URL.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		user:       cfg.User,
		password:   cfg.Password,
		appName:    cfg.AppName,
	}
}

// doRequest issues an HTTP request against the engine, authenticating via
// Basic Auth in the Authorization header (never the URL, per §6), and
// classifies the response per §4.1's failure semantics: 2xx with a body
// decodes into out; 204/empty bodies are a null success; non-2xx becomes
// an *errs.EngineError carrying status and body.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &errs.EngineError{Op: method + " " + path, Status: 0, Body: fmt.Sprintf("encoding request: %v", err)}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &errs.EngineError{Op: method + " " + path, Status: 0, Body: fmt.Sprintf("building request: %v", err)}
	}
	req.SetBasicAuth(c.user, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errs.Transient{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &errs.Transient{Op: method + " " + path, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errs.EngineError{Op: method + " " + path, Status: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &errs.EngineError{Op: method + " " + path, Status: resp.StatusCode, Body: fmt.Sprintf("decoding response: %v", err)}
	}
	return nil
}

// SubscribeEndpointEvents registers the orchestrator's application as a
// consumer of endpoint-state events for PJSIP endpoints. Idempotent on
// the engine side; call once at startup.
func (c *Client) SubscribeEndpointEvents(ctx context.Context) error {
	path := fmt.Sprintf("/ari/applications/%s/subscription?eventSource=endpoint:PJSIP", c.appName)
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// CreateMixingBridge creates a new mixing bridge and returns its id.
func (c *Client) CreateMixingBridge(ctx context.Context) (string, error) {
	var b Bridge
	if err := c.doRequest(ctx, http.MethodPost, "/ari/bridges", map[string]string{"type": "mixing"}, &b); err != nil {
		return "", err
	}
	return b.ID, nil
}

// AddChannel adds channelID to bridgeID.
func (c *Client) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	path := fmt.Sprintf("/ari/bridges/%s/addChannel", bridgeID)
	return c.doRequest(ctx, http.MethodPost, path, map[string]string{"channel": channelID}, nil)
}

// GetBridge fetches current bridge membership.
func (c *Client) GetBridge(ctx context.Context, bridgeID string) (*Bridge, error) {
	var b Bridge
	path := fmt.Sprintf("/ari/bridges/%s", bridgeID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBridge deletes bridgeID. A 404 is surfaced as an EngineError; the
// caller decides whether to treat it as already-gone via NotGone().
func (c *Client) DeleteBridge(ctx context.Context, bridgeID string) error {
	path := fmt.Sprintf("/ari/bridges/%s", bridgeID)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// Originate creates a new channel dialing endpoint, routed into the
// orchestrator's application with appArgs (e.g. "outgoing,<bridgeId>").
func (c *Client) Originate(ctx context.Context, endpoint string, appArgs string) (*Channel, error) {
	var ch Channel
	body := map[string]string{
		"endpoint": endpoint,
		"app":      c.appName,
		"appArgs":  appArgs,
	}
	if err := c.doRequest(ctx, http.MethodPost, "/ari/channels", body, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// Answer answers channelID.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	path := fmt.Sprintf("/ari/channels/%s/answer", channelID)
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// Hold places channelID on hold.
func (c *Client) Hold(ctx context.Context, channelID string) error {
	path := fmt.Sprintf("/ari/channels/%s/hold", channelID)
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// Hangup terminates channelID. A 404 response means the channel is
// already gone; callers on cleanup paths should treat that as success via
// errs.EngineError.NotGone.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	path := fmt.Sprintf("/ari/channels/%s", channelID)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}
