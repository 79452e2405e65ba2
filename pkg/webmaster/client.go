package webmaster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wmharvest/pkg/config"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/logger"
)

// Client talks to the Yandex Webmaster API
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	logger     logger.Logger
}

// NewClient creates a new API client authenticated with an OAuth token
func NewClient(cfg config.WebmasterConfig, token string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"Authorization": "OAuth " + token,
			"Accept":        "application/json",
			"Content-Type":  "application/json; charset=UTF-8",
		},
		baseURL: baseURL,
		logger:  log,
	}
	if cfg.UserAgent != "" {
		c.headers["User-Agent"] = cfg.UserAgent
	}
	return c
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.Path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "request failed")
	}

	logger.LogRequest(c.logger, req.Method, req.URL.Path, resp.StatusCode, duration)
	return resp, nil
}

// call sends a request with an optional JSON body and decodes the JSON response into target
func (c *Client) call(ctx context.Context, method, path string, body, target interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeParsing, err, "failed to encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "failed to read response body")
	}

	if err := checkResponseStatus(resp.StatusCode, data); err != nil {
		return err
	}

	if err := json.Unmarshal(data, target); err != nil {
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          path,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview(data),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: "failed to parse JSON",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}
	return nil
}

// checkResponseStatus maps a non-200 status to a typed error carrying the API message
func checkResponseStatus(status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}

	message := http.StatusText(status)
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorCode != "" {
		message = apiErr.ErrorCode
		if apiErr.ErrorMessage != "" {
			message += ": " + apiErr.ErrorMessage
		}
	} else if len(body) > 0 {
		message = preview(body)
	}

	return errs.New(errs.TypeForStatus(status), status, message)
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// UserID resolves the id of the token owner.
// Any failure here means the token cannot be used and is reported as an auth error.
func (c *Client) UserID(ctx context.Context) (string, error) {
	var resp userResponse
	if err := c.call(ctx, http.MethodGet, UserPath(), nil, &resp); err != nil {
		if errs.IsType(err, errs.ErrorTypeAuth) {
			return "", err
		}
		return "", errs.Wrap(errs.ErrorTypeAuth, err, "failed to resolve user id")
	}
	if resp.UserID == "" {
		return "", errs.New(errs.ErrorTypeAuth, http.StatusOK, "response has no user id")
	}

	c.logger.DebugWithFields("resolved user id", map[string]interface{}{
		"user_id": resp.UserID.String(),
	})
	return resp.UserID.String(), nil
}

// Hosts lists the hosts registered for the user
func (c *Client) Hosts(ctx context.Context, userID string) ([]Host, error) {
	var resp hostsResponse
	if err := c.call(ctx, http.MethodGet, HostsPath(userID), nil, &resp); err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("listed hosts", map[string]interface{}{
		"user_id": userID,
		"count":   len(resp.Hosts),
	})
	return resp.Hosts, nil
}

// QueryAnalytics fetches one page of query-analytics statistics for a host
func (c *Client) QueryAnalytics(ctx context.Context, userID, hostID string, req AnalyticsRequest) (*AnalyticsResponse, error) {
	if req.Limit <= 0 || req.Limit > MaxPageSize {
		return nil, errs.New(errs.ErrorTypeConfig, 0, fmt.Sprintf("limit must be between 1 and %d", MaxPageSize))
	}

	var resp AnalyticsResponse
	if err := c.call(ctx, http.MethodPost, QueryAnalyticsPath(userID, hostID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
