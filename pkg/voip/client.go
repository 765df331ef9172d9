// Package voip is the client of the click-to-dial REST API of the VoIP
// backend. It only places calls and reads their status; call signaling
// happens on the backend.
package voip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clicktodial/pkg/config"
)

const (
	dialPath   = "/api/clicktodial/"
	maxBodyLen = 1 << 16
)

// Client places and follows calls through the backend.
type Client struct {
	baseURL        *url.URL
	username       string
	token          string
	http           *http.Client
	requestTimeout time.Duration
}

type dialRequest struct {
	BNumber string `json:"b_number"`
}

type dialResponse struct {
	CallID string `json:"callid"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(cfg config.VoIPConfig) (*Client, error) {
	rawURL := strings.TrimSpace(cfg.BaseURL)
	if rawURL == "" {
		return nil, errors.New("voip.base_url is required")
	}

	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse voip.base_url: %w", err)
	}

	return &Client{
		baseURL:        baseURL,
		username:       strings.TrimSpace(cfg.Username),
		token:          cfg.ResolvedToken(),
		http:           &http.Client{},
		requestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}, nil
}

// Authenticated reports whether credentials are configured.
func (c *Client) Authenticated() bool {
	return c.username != "" && c.token != ""
}

// Dial asks the backend to set up a call to bNumber and returns its call id.
func (c *Client) Dial(ctx context.Context, bNumber string) (string, error) {
	log := clientLogger().With("operation", "dial")
	startedAt := time.Now()
	log.Debug("voip request started", "b_number", bNumber)

	var response dialResponse
	if err := c.do(ctx, http.MethodPost, dialPath, dialRequest{BNumber: bNumber}, &response); err != nil {
		log.Debug("voip request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("dial failed: %w", err)
	}
	if response.CallID == "" {
		log.Debug("voip request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "empty call id")
		return "", &Error{Category: ErrorProtocol, Detail: "dial returned empty call id"}
	}

	log.Debug("voip request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "callid", response.CallID)
	return response.CallID, nil
}

// Status returns the backend status of callID, e.g. "dialing_a" or
// "connected".
func (c *Client) Status(ctx context.Context, callID string) (string, error) {
	log := clientLogger().With("operation", "status")
	startedAt := time.Now()

	var response statusResponse
	if err := c.do(ctx, http.MethodGet, dialPath+url.PathEscape(callID)+"/", nil, &response); err != nil {
		log.Debug("voip request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "callid", callID, "error", err)
		return "", fmt.Errorf("call status failed: %w", err)
	}

	log.Debug("voip request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "callid", callID, "status", response.Status)
	return response.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if !c.Authenticated() {
		return &Error{Category: ErrorUnauthorized, Detail: "no credentials configured"}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+c.username+":"+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Category: ErrorUnavailable, Detail: err.Error()}
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLen))
	if err != nil {
		return &Error{Category: ErrorUnavailable, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromStatus(resp.StatusCode, errorDetail(resp.Status, content))
	}

	if out == nil || len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	if err := json.Unmarshal(content, out); err != nil {
		return &Error{Category: ErrorProtocol, Detail: "decode response: " + err.Error()}
	}

	return nil
}

func errorDetail(status string, content []byte) string {
	var response errorResponse
	if err := json.Unmarshal(content, &response); err == nil && strings.TrimSpace(response.Error) != "" {
		return strings.TrimSpace(response.Error)
	}

	return status
}

func clientLogger() *slog.Logger {
	return slog.Default().With("component", "voip.client")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}
