// Package gitlab relays calls to the GitLab REST API v4 and normalizes every
// failure into a single error shape.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://gitlab.com/api/v4"

// Request describes one proxied call.
type Request struct {
	Token    string            `json:"token"`
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method,omitempty"`
	Body     any               `json:"data,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// Caller performs proxied GitLab calls. Implementations never return a Go error:
// every failure is reported inside the Result.
type Caller interface {
	Call(ctx context.Context, req Request) Result
}

// Error is the uniform failure shape: {"error": "...", "details": "..."}.
type Error struct {
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Result holds either the upstream JSON body or an Error.
type Result struct {
	Body json.RawMessage
	Err  *Error
}

func ErrorResult(message, details string) Result {
	return Result{Err: &Error{Message: message, Details: details}}
}

func (r Result) Failed() bool {
	return r.Err != nil
}

// Decode unmarshals the upstream body into v, or returns the error result.
func (r Result) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode gitlab response: %w", err)
	}
	return nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(r.Err)
	}
	if len(r.Body) == 0 {
		return []byte("null"), nil
	}
	return r.Body, nil
}

// UnmarshalJSON treats any object carrying a string "error" field as a failure.
func (r *Result) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Error   *string `json:"error"`
		Details string  `json:"details"`
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Error != nil {
			*r = ErrorResult(*envelope.Error, envelope.Details)
			return nil
		}
	}
	r.Err = nil
	r.Body = append(json.RawMessage(nil), data...)
	return nil
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls GitLab directly, authenticating each call with the request token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

var _ Caller = (*Client)(nil)

func (c *Client) Call(ctx context.Context, req Request) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("gitlab call panicked", "endpoint", req.Endpoint, "panic", p)
			res = ErrorResult(fmt.Sprintf("%v", p), "")
		}
	}()

	if req.Token == "" {
		return ErrorResult("missing access token", "")
	}
	if req.Endpoint == "" {
		return ErrorResult("missing endpoint", "")
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return ErrorResult(fmt.Sprintf("Method %s not supported", req.Method), "")
	}

	target, err := c.buildURL(req.Endpoint, method, req.Params)
	if err != nil {
		return ErrorResult(err.Error(), "")
	}

	var body io.Reader
	if method == http.MethodPost && req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return ErrorResult(fmt.Sprintf("encode request body: %v", err), "")
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return ErrorResult(err.Error(), "")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("calling gitlab", "method", method, "url", target)
	resp, err := c.clientFor(req.Token).Do(httpReq)
	if err != nil {
		return ErrorResult(err.Error(), "")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read response: %v", err), "")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("gitlab returned error status", "status", resp.StatusCode, "url", target)
		return ErrorResult(fmt.Sprintf("API returned status code %d", resp.StatusCode), string(payload))
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Result{Body: json.RawMessage("null")}
	}
	if !json.Valid(payload) {
		return ErrorResult("invalid JSON in GitLab response", string(payload))
	}
	return Result{Body: json.RawMessage(payload)}
}

func (c *Client) buildURL(endpoint, method string, params map[string]string) (string, error) {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if method == http.MethodGet && len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Add(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// clientFor wraps the configured client so each request carries the token as a bearer credential.
func (c *Client) clientFor(token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.httpClient.Transport,
		},
		Timeout:       c.httpClient.Timeout,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}
}

// APIBaseURL maps an organization URL to its REST v4 base.
// gitlab.com organizations use the public API, anything else is treated as self-hosted.
func APIBaseURL(orgURL string) string {
	orgURL = strings.TrimRight(strings.TrimSpace(orgURL), "/")
	if orgURL == "" || strings.Contains(orgURL, "gitlab.com") {
		return DefaultBaseURL
	}
	if strings.HasSuffix(orgURL, "/api/v4") {
		return orgURL
	}
	return orgURL + "/api/v4"
}
