package collivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// ContextWithRequestID attaches a request id that the HTTP transport sends
// as X-Request-Id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id attached to ctx.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// HTTPAPIClient is the production implementation of APIClient using
// HTTP/JSON.
type HTTPAPIClient struct {
	baseURL    string
	headers    http.Header
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL    string
	AppName    string
	AppVersion string
	AppHost    string
	AppLang    string
	AppURL     string
	Timeout    time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	headers.Set("X-App-Name", cfg.AppName)
	headers.Set("X-App-Version", cfg.AppVersion)
	headers.Set("X-App-Host", cfg.AppHost)
	headers.Set("X-App-Lang", cfg.AppLang)
	headers.Set("X-App-Url", cfg.AppURL)

	return &HTTPAPIClient{
		baseURL: baseURL,
		headers: headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Request implements APIClient.
func (c *HTTPAPIClient) Request(ctx context.Context, method, path string, params map[string]any) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, method, path, params)
	if err != nil {
		return nil, &APIError{Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "failed to read response body", Cause: err}
	}
	return json.RawMessage(body), nil
}

func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, params map[string]any) (*http.Response, error) {
	target := c.baseURL + path

	var bodyReader io.Reader
	if method == http.MethodGet {
		if query := encodeQuery(params); query != "" {
			target += "?" + query
		}
	} else if params != nil {
		jsonBody, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = c.headers.Clone()
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-Id", requestID)

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: nested.Error.Message}
	}

	var simple struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &simple); err == nil {
		msg := simple.Message
		if msg == "" {
			msg = simple.Error
		}
		if msg != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: msg}
		}
	}

	msg := string(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// encodeQuery flattens params into a query string. Slices repeat the key
// with a [] suffix.
func encodeQuery(params map[string]any) string {
	values := make(url.Values, len(params))
	for key, value := range params {
		switch v := value.(type) {
		case []int:
			for _, item := range v {
				values.Add(key+"[]", strconv.Itoa(item))
			}
		case []any:
			for _, item := range v {
				values.Add(key+"[]", queryValue(item))
			}
		default:
			values.Set(key, queryValue(v))
		}
	}
	return values.Encode()
}

func queryValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Ensure HTTPAPIClient implements APIClient.
var _ APIClient = (*HTTPAPIClient)(nil)
