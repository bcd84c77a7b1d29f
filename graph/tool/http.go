package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxHTTPBody = 1 << 20

// HTTPTool performs GET and POST requests.
//
// Input: "url" (required), "method" (GET or POST, default GET), "body",
// "headers" (string map). Output: "status_code", "headers", "body". Bodies
// are truncated to 1 MiB.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates an HTTPTool. A nil client gets a 30 second timeout.
func NewHTTPTool(client *http.Client) *HTTPTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTool{client: client}
}

// Name implements Tool.
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Description implements Describer.
func (h *HTTPTool) Description() string {
	return "Fetch a URL over HTTP and return the status code and response body"
}

// Call implements Tool.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr := stringInput(input, "url", "value", "query")
	if urlStr == "" {
		return nil, fmt.Errorf("%w: url", ErrMissingInput)
	}
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return nil, fmt.Errorf("unsupported URL %q: only http and https are allowed", urlStr)
	}

	method := "GET"
	if m := stringInput(input, "method"); m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "POST" {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if b := stringInput(input, "body"); b != "" {
		body = bytes.NewBufferString(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}
