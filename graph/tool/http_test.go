package tool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPTool_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("custom header not forwarded")
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	out, err := NewHTTPTool(nil).Call(context.Background(), map[string]interface{}{
		"url":     server.URL,
		"headers": map[string]interface{}{"X-Test": "yes"},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out["status_code"] != 200 {
		t.Errorf("status_code = %v, want 200", out["status_code"])
	}
	if out["body"] != "hello" {
		t.Errorf("body = %v, want hello", out["body"])
	}
	headers := out["headers"].(map[string]interface{})
	if headers["Content-Type"] != "text/plain" {
		t.Errorf("Content-Type = %v", headers["Content-Type"])
	}
}

func TestHTTPTool_POST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(strings.ToUpper(string(body))))
	}))
	defer server.Close()

	out, err := NewHTTPTool(nil).Call(context.Background(), map[string]interface{}{
		"url":    server.URL,
		"method": "post",
		"body":   "data",
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out["status_code"] != http.StatusCreated || out["body"] != "DATA" {
		t.Errorf("unexpected response: %v", out)
	}
}

func TestHTTPTool_InvalidInput(t *testing.T) {
	tool := NewHTTPTool(nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		input map[string]interface{}
	}{
		{"missing url", map[string]interface{}{}},
		{"bad scheme", map[string]interface{}{"url": "file:///etc/passwd"}},
		{"bad method", map[string]interface{}{"url": "http://example.com", "method": "DELETE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tool.Call(ctx, tt.input); err == nil {
				t.Error("Call() should fail")
			}
		})
	}

	if _, err := tool.Call(ctx, map[string]interface{}{}); !errors.Is(err, ErrMissingInput) {
		t.Errorf("missing url error = %v, want ErrMissingInput", err)
	}
}

func TestHTTPTool_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := NewHTTPTool(nil).Call(ctx, map[string]interface{}{"url": server.URL}); err == nil {
		t.Error("Call() should fail when the context expires")
	}
}
