package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/tillsync/tillsync/internal/config"
	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
)

// HTTPClient implements EntityAPI against the backend's REST endpoints.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	token     string
	userAgent string
	deviceID  string
	logger    *events.Logger

	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an entity API client. deviceID is attached to every
// request so the backend can tag the resulting change notifications.
func NewHTTPClient(cfg *config.APIConfig, deviceID string, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		userAgent:  cfg.UserAgent,
		deviceID:   deviceID,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the bearer token issued by the (external) auth layer.
func (c *HTTPClient) SetToken(token string) { c.token = token }

// SetRetryDelay overrides the initial retry delay, for tests.
func (c *HTTPClient) SetRetryDelay(d time.Duration) { c.retryDelay = d }

// Create posts a new record and returns the server-issued identifier.
func (c *HTTPClient) Create(ctx context.Context, entity models.EntityType, body json.RawMessage) (models.ID, error) {
	env, err := c.do(ctx, http.MethodPost, c.entityURL(entity, models.ID{}), body)
	if err != nil {
		return models.ID{}, err
	}
	if env.ID.IsZero() {
		return models.ID{}, fmt.Errorf("create %s: server returned no id", entity)
	}
	return env.ID, nil
}

// Update replaces a record's fields on the server.
func (c *HTTPClient) Update(ctx context.Context, entity models.EntityType, id models.ID, body json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPut, c.entityURL(entity, id), body)
	return err
}

// Delete removes a record on the server.
func (c *HTTPClient) Delete(ctx context.Context, entity models.EntityType, id models.ID) error {
	_, err := c.do(ctx, http.MethodDelete, c.entityURL(entity, id), nil)
	return err
}

// FetchAll retrieves the server's current state of one collection.
func (c *HTTPClient) FetchAll(ctx context.Context, entity models.EntityType) ([]json.RawMessage, error) {
	env, err := c.do(ctx, http.MethodGet, c.entityURL(entity, models.ID{}), nil)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *HTTPClient) entityURL(entity models.EntityType, id models.ID) string {
	url := fmt.Sprintf("%s/api/v1/%s", c.baseURL, entity)
	if !id.IsZero() {
		url += "/" + id.String()
	}
	return url
}

// do executes one request with retry and unwraps the response envelope.
func (c *HTTPClient) do(ctx context.Context, method, url string, payload json.RawMessage) (*envelope, error) {
	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    url,
		"size":   len(payload),
	}).Debug("Sending request")

	var respBody []byte
	var status int

	err := c.retry(ctx, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Device-ID", c.deviceID)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if c.isRetryableStatus(resp.StatusCode) {
			return &models.APIError{
				Code:       "SERVER_ERROR",
				Message:    string(body),
				StatusCode: resp.StatusCode,
			}
		}

		status = resp.StatusCode
		respBody = body
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"status": status,
		"size":   len(respBody),
	}).Debug("Received response")

	if status < 200 || status >= 300 {
		var apiErr models.APIError
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Message != "" {
			apiErr.StatusCode = status
			return nil, &apiErr
		}
		return nil, fmt.Errorf("HTTP %d: %s", status, respBody)
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		if !env.Success {
			return nil, &models.APIError{
				Code:       "REQUEST_REJECTED",
				Message:    env.Message,
				StatusCode: status,
			}
		}
	}

	return &env, nil
}

// retry executes fn with exponential backoff, bounded by maxRetries.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *HTTPClient) isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

func (c *HTTPClient) isRetryableError(err error) bool {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Treat transport-level failures as transient.
	return true
}
