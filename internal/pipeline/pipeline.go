// Package pipeline wraps every outbound platform call: it attaches the
// bearer credential, gates role-restricted paths before dispatch, and makes
// a single 401 transparently recoverable through one refresh and one replay.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"edugate/internal/domain"
	"edugate/internal/session"
)

const sessionExpiredMessage = "Your session has expired. Please sign in again."
const unreachableMessage = "Cannot reach the server. Check your connection and try again."

// Notifier is the user-visible toast surface. The pipeline raises at most
// one notification per failed call.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Navigator abstracts the route surface so forced logout can redirect to the
// login route unless the user is already there.
type Navigator interface {
	Current() string
	Navigate(route string)
}

type Options struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	LoginRoute  string
	Restricted  map[string]domain.Role
	Timeout     time.Duration
	DeviceLabel string
}

type Request struct {
	Method string
	Path   string
	Body   interface{}
}

type Response struct {
	Status int
	Body   []byte
}

func (r *Response) Decode(target interface{}) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, target)
}

type Client struct {
	opts          Options
	session       *session.Store
	httpClient    *http.Client
	notifier      Notifier
	nav           Navigator
	logger        *slog.Logger
	refreshGroup  singleflight.Group
	deviceContext string
}

func NewClient(opts Options, store *session.Store, notifier Notifier, nav Navigator, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	device := uuid.NewString()
	if opts.DeviceLabel != "" {
		device = opts.DeviceLabel + ":" + device
	}
	return &Client{
		opts:          opts,
		session:       store,
		httpClient:    &http.Client{Timeout: opts.Timeout},
		notifier:      notifier,
		nav:           nav,
		logger:        logger,
		deviceContext: device,
	}
}

// Do runs one authenticated request. A first 401 on a protected path
// triggers exactly one refresh and one replay; a second 401, a missing
// refresh token, or a failed refresh force-logs the session out.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if required, ok := c.requiredRole(req.Path); ok {
		if actual := c.session.Role(); actual != required {
			c.logger.Debug("request cancelled before dispatch", "path", req.Path, "required_role", string(required))
			return nil, &RoleMismatchError{Path: req.Path, Required: required, Actual: actual}
		}
	}

	retried := false
	for {
		resp, err := c.dispatch(ctx, req)
		if err != nil {
			c.notifier.Notify(ctx, unreachableMessage)
			return nil, fmt.Errorf("%s %s: %w: %v", req.Method, req.Path, ErrNetworkUnreachable, err)
		}

		if resp.Status == http.StatusUnauthorized {
			// 401 on the auth endpoints themselves ends the chain at its
			// root; refreshing or logging out here would recurse.
			if req.Path == c.opts.LoginPath || req.Path == c.opts.RefreshPath {
				msg := extractMessage(resp.Status, resp.Body)
				c.notifier.Notify(ctx, msg)
				return nil, &AuthInvalidError{Message: msg}
			}
			if retried {
				c.ForceLogout(ctx, sessionExpiredMessage)
				return nil, ErrAuthExpired
			}
			if c.session.RefreshToken() == "" {
				c.ForceLogout(ctx, sessionExpiredMessage)
				return nil, ErrAuthExpired
			}
			if _, err := c.refreshCredentials(ctx); err != nil {
				c.ForceLogout(ctx, sessionExpiredMessage)
				return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
			}
			retried = true
			continue
		}

		if resp.Status >= 400 {
			msg := extractMessage(resp.Status, resp.Body)
			c.notifier.Notify(ctx, msg)
			return nil, &APIError{Status: resp.Status, Message: msg}
		}
		return resp, nil
	}
}

func (c *Client) requiredRole(path string) (domain.Role, bool) {
	var (
		best     string
		bestRole domain.Role
		found    bool
	)
	// Longest prefix wins so a stricter nested path is never shadowed
	// by a broader one.
	for prefix, role := range c.opts.Restricted {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best = prefix
			bestRole = role
			found = true
		}
	}
	return bestRole, found
}

func (c *Client) dispatch(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.opts.BaseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if token := c.session.AccessToken(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: raw}, nil
}

// ForceLogout clears every credential tier and the cached profile, then
// redirects to the login route unless already there. Idempotent.
func (c *Client) ForceLogout(ctx context.Context, message string) {
	c.session.Clear()
	if message != "" {
		c.notifier.Notify(ctx, message)
	}
	if c.nav != nil && c.nav.Current() != c.opts.LoginRoute {
		c.nav.Navigate(c.opts.LoginRoute)
	}
}

// extractMessage derives the user-facing text of an error response:
// message/title field, then flattened validation errors, then the first
// details entry, then the HTTP status text.
func extractMessage(status int, body []byte) string {
	var envelope struct {
		Message string              `json:"message"`
		Title   string              `json:"title"`
		Errors  map[string][]string `json:"errors"`
		Details []string            `json:"details"`
	}
	_ = json.Unmarshal(body, &envelope)

	if envelope.Message != "" {
		return envelope.Message
	}
	if envelope.Title != "" {
		return envelope.Title
	}
	if len(envelope.Errors) > 0 {
		fields := make([]string, 0, len(envelope.Errors))
		for field := range envelope.Errors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		parts := make([]string, 0, len(fields))
		for _, field := range fields {
			parts = append(parts, field+": "+strings.Join(envelope.Errors[field], ", "))
		}
		return strings.Join(parts, "; ")
	}
	if len(envelope.Details) > 0 && envelope.Details[0] != "" {
		return envelope.Details[0]
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("request failed with status %d", status)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string) {}
