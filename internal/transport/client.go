package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/op/go-logging"
	"golang.org/x/oauth2"

	"github.com/Tiliavir/shiftq/internal/model"
)

var log = logging.MustGetLogger("log")

// EnvelopeField is the form field carrying the JSON-encoded action.
const EnvelopeField = "payload"

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

// Client delivers actions to the workflow backend and queries its open sessions.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Options configures a Client.
type Options struct {
	// BaseURL is prepended to endpoints that are not absolute URLs.
	BaseURL string
	// Token, if set, is sent as a bearer token.
	Token string
	// Timeout bounds each request. Zero means no client-side bound.
	Timeout time.Duration
}

// NewClient creates a backend client. When a token is configured the HTTP
// client is wrapped by oauth2 so every request carries it.
func NewClient(ctx context.Context, opts Options) *Client {
	httpClient := &http.Client{}
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	httpClient.Timeout = opts.Timeout
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
	}
}

// resolve turns a section endpoint into an absolute URL.
func (c *Client) resolve(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.IsAbs() {
		return endpoint
	}
	if c.baseURL == "" {
		return endpoint
	}
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

// EncodeEnvelope serializes an action into the form body the backend expects:
// a single form field holding the JSON record.
func EncodeEnvelope(a model.Action) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encoding action: %w", err)
	}
	return url.Values{EnvelopeField: {string(raw)}}.Encode(), nil
}

// Deliver performs one delivery attempt and classifies its outcome. It never
// returns a Go error; network failures are reported as status 0.
func (c *Client) Deliver(ctx context.Context, endpoint string, a model.Action, accepted []int) Outcome {
	body, err := EncodeEnvelope(a)
	if err != nil {
		return Outcome{Class: PermanentFailure, Status: StatusUnreachable, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(endpoint), strings.NewReader(body))
	if err != nil {
		return Outcome{Class: PermanentFailure, Status: StatusUnreachable, Cause: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debugf("delivery to %s failed before a response: %v", endpoint, err)
		return Outcome{Class: RetryableFailure, Status: StatusUnreachable, Cause: err}
	}
	defer resp.Body.Close()

	class := Classify(resp.StatusCode, accepted)
	out := Outcome{Class: class, Status: resp.StatusCode}
	if class != Success {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			out.Cause = errors.New(msg)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return out
}

// FetchSessions queries the backend's canonical open-session list.
func (c *Client) FetchSessions(ctx context.Context, endpoint string) ([]model.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session query failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("session query error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list model.SessionList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decoding session list: %w", err)
	}
	if !list.OK {
		return nil, errors.New("session query reported ok=false")
	}
	return list.Sessions, nil
}
