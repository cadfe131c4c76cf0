package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/imamik/gsclone/internal/logging"
)

// The web API only answers clients that look like the mobile app.
const userAgent = "asusrouter-Android-DUTUtil-1.0.0.245"

func (c *RealClient) login(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
	form := url.Values{"login_authorization": {creds}}
	req, err := c.newRequest(ctx, "/login.cgi", form)
	if err != nil {
		return "", err
	}

	var data struct {
		Token string `json:"asus_token"`
	}
	if err := c.do(req, &data); err != nil {
		return "", fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}
	if data.Token == "" {
		return "", fmt.Errorf("login as %s: no asus_token in response", c.cfg.Username)
	}
	c.token = data.Token
	return c.token, nil
}

func (c *RealClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// post sends an authenticated form request and logs in again once when the
// session has expired.
func (c *RealClient) post(ctx context.Context, path string, form url.Values, out any) error {
	err := c.postOnce(ctx, path, form, out)
	if err != nil && isSessionExpired(err) {
		c.invalidateToken()
		err = c.postOnce(ctx, path, form, out)
	}
	return err
}

func (c *RealClient) postOnce(ctx context.Context, path string, form url.Values, out any) error {
	token, err := c.login(ctx)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, path, form)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: "asus_token", Value: token})

	logging.FromContext(ctx).V(2).Info("router request", "path", path)
	return c.do(req, out)
}

func (c *RealClient) newRequest(ctx context.Context, path string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.baseURL+"/")
	return req, nil
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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	// Errors come back as 200 with an error_status field.
	var status struct {
		ErrorStatus json.RawMessage `json:"error_status"`
	}
	if err := json.Unmarshal(body, &status); err == nil && len(status.ErrorStatus) > 0 {
		code := strings.Trim(string(status.ErrorStatus), `"`)
		return &APIError{StatusCode: resp.StatusCode, Code: code, Message: codeMessage(code)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
