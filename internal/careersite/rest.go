package careersite

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/utils"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
	userAgent       = "spigell/career-sync"
	defaultTimeout  = 10 * time.Second
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d from %s: %s", e.Code, e.URL, e.Body)
}

// RestClient is a small JSON-over-HTTP client shared by the career sites.
type RestClient struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	// Header is added to every request.
	Header http.Header
	logger *zap.Logger
}

func NewRestClient(baseURL string, logger *zap.Logger) *RestClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RestClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		UserAgent:  userAgent,
		Header:     http.Header{},
		logger:     logger,
	}
}

// GetJSON decodes the response of GET path?q into target.
func (c *RestClient) GetJSON(ctx context.Context, path string, q url.Values, target any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

// PostJSON sends body as JSON and decodes the response into target.
func (c *RestClient) PostJSON(ctx context.Context, path string, body, target any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

func (c *RestClient) newRequest(ctx context.Context, method, path string, q url.Values, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	for key, values := range c.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if len(q) > 0 {
		req.URL.RawQuery = q.Encode()
	}
	return req, nil
}

func (c *RestClient) do(req *http.Request, target any) error {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, URL: req.URL.String(), Body: utils.TruncateForLog(string(data), 512)}
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL.String(), err)
	}
	return nil
}
