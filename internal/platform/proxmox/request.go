package proxmox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/util/retry"
)

const (
	ticketLifetime = 100 * time.Minute // PVE tickets are valid for two hours
	readRetries    = 2
)

type envelope struct {
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
	Message string            `json:"message"`
}

// get performs a GET with a short retry on transient failures.
func (c *RealClient) get(ctx context.Context, path string, query url.Values, out any) error {
	var lastErr error
	err := retry.WithExponentialBackoff(ctx, func() error {
		lastErr = c.request(ctx, http.MethodGet, path, query, nil, out)
		if lastErr != nil && !isRetryable(lastErr) {
			return retry.Fatal(lastErr)
		}
		return lastErr
	},
		retry.WithMaxRetries(readRetries),
		retry.WithInitialDelay(c.retryDelay),
	)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return lastErr
	}
	return nil
}

// post performs a form-encoded POST. Writes are never retried here.
func (c *RealClient) post(ctx context.Context, path string, form url.Values, out any) error {
	return c.request(ctx, http.MethodPost, path, nil, form, out)
}

func (c *RealClient) request(ctx context.Context, method, path string, query, form url.Values, out any) error {
	err := c.requestOnce(ctx, method, path, query, form, out)
	if err != nil && c.cfg.TokenID == "" && isUnauthorized(err) {
		// The ticket may have been revoked or expired early; log in again once.
		c.invalidateTicket()
		err = c.requestOnce(ctx, method, path, query, form, out)
	}
	return err
}

func (c *RealClient) requestOnce(ctx context.Context, method, path string, query, form url.Values, out any) error {
	req, err := c.newRequest(ctx, method, path, query, form)
	if err != nil {
		return err
	}
	if err := c.authenticate(ctx, req); err != nil {
		return err
	}

	logging.FromContext(ctx).V(2).Info("proxmox request", "method", method, "path", path)
	return c.do(req, out)
}

func (c *RealClient) newRequest(ctx context.Context, method, path string, query, form url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *RealClient) authenticate(ctx context.Context, req *http.Request) error {
	if c.cfg.TokenID != "" {
		req.Header.Set("Authorization", fmt.Sprintf("PVEAPIToken=%s=%s", c.cfg.TokenID, c.cfg.TokenSecret))
		return nil
	}

	t, err := c.getTicket(ctx)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: t.value})
	if req.Method != http.MethodGet {
		req.Header.Set("CSRFPreventionToken", t.csrf)
	}
	return nil
}

func (c *RealClient) getTicket(ctx context.Context) (*ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ticket != nil && time.Now().Before(c.ticket.until) {
		return c.ticket, nil
	}

	form := url.Values{"username": {c.cfg.Username}, "password": {c.cfg.Password}}
	req, err := c.newRequest(ctx, http.MethodPost, "/access/ticket", nil, form)
	if err != nil {
		return nil, err
	}

	var data struct {
		Ticket string `json:"ticket"`
		CSRF   string `json:"CSRFPreventionToken"`
	}
	if err := c.do(req, &data); err != nil {
		return nil, fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}
	if data.Ticket == "" {
		return nil, fmt.Errorf("login as %s: empty ticket", c.cfg.Username)
	}

	c.ticket = &ticket{value: data.Ticket, csrf: data.CSRF, until: time.Now().Add(ticketLifetime)}
	return c.ticket, nil
}

func (c *RealClient) invalidateTicket() {
	c.mu.Lock()
	c.ticket = nil
	c.mu.Unlock()
}

func (c *RealClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("parse response: %w (status %d)", err, resp.StatusCode)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp, env)}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}

// errorMessage collects the reason from the status line and the errors map.
// PVE puts the human readable reason into the status line itself.
func errorMessage(resp *http.Response, env envelope) string {
	msg := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if m := strings.TrimSpace(env.Message); m != "" {
		msg = m
	}
	if len(env.Errors) == 0 {
		return msg
	}

	keys := make([]string, 0, len(env.Errors))
	for k := range env.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{msg}
	for _, k := range keys {
		parts = append(parts, k+": "+strings.TrimSpace(env.Errors[k]))
	}
	return strings.Join(parts, "; ")
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
