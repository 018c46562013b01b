// Package remote reaches the durable file store that mirrors user state.
// It provides an HTTP client, an HTTP handler serving the same API over a
// directory, and an in-memory store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/michaelbrown/algoprep/internal/storage"
)

// ErrUnauthorized is returned when the store rejects the token.
var ErrUnauthorized = errors.New("remote rejected credentials")

// fileRequest is the body of a write.
type fileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Message string `json:"message,omitempty"`
}

// fileResponse is the body of a successful read.
type fileResponse struct {
	Path    string `json:"path,omitempty"`
	Content string `json:"content"`
}

// Client talks to the remote file API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ storage.Remote = (*Client)(nil)

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Get reads one file. A 404 is reported as found=false.
func (c *Client) Get(ctx context.Context, path string) (string, bool, error) {
	target := c.baseURL + "/api/file?path=" + url.QueryEscape(path)
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", false, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return "", false, statusError(resp)
	}

	var out fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decoding %s: %w", path, err)
	}
	return out.Content, true, nil
}

// Put creates or replaces one file.
func (c *Client) Put(ctx context.Context, path, content, message string) error {
	body, err := json.Marshal(fileRequest{Path: path, Content: content, Message: message})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/api/file", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(msg, &body) == nil && body.Error != "" {
		return fmt.Errorf("remote returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("remote returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
