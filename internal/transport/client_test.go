package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/im/messages/conv-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("echo"); got != "1" {
			t.Errorf("query echo = %q, want 1", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil || decoded["content"] != "hi" {
			t.Errorf("body = %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"data":{"id":"srv-1"},"meta":{"requestId":"r-1"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	result, err := c.Do(context.Background(), http.MethodPost, "/api/im/messages/conv-1",
		map[string]any{"content": "hi"}, map[string]string{"echo": "1"})
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatal("result should be ok")
	}
	var data struct {
		ID string `json:"id"`
	}
	if err := result.Decode(&data); err != nil {
		t.Fatal(err)
	}
	if data.ID != "srv-1" {
		t.Errorf("data id = %q", data.ID)
	}
	if result.Meta["requestId"] != "r-1" {
		t.Errorf("meta = %v", result.Meta)
	}
}

func TestClientDoServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ok":false,"error":{"code":"VALIDATION_ERROR","message":"content required"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	result, err := c.Do(context.Background(), http.MethodPost, "/api/im/messages/conv-1", map[string]any{}, nil)
	if err != nil {
		t.Fatalf("rejections must come back as envelopes, got %v", err)
	}
	if result.OK {
		t.Fatal("result should not be ok")
	}
	if result.Error == nil || result.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("error = %+v", result.Error)
	}
	if result.Error.Error() != "VALIDATION_ERROR: content required" {
		t.Errorf("error string = %q", result.Error.Error())
	}
}

func TestClientDoMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway error</html>`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	if _, err := c.Do(context.Background(), http.MethodGet, "/api/im/conversations", nil, nil); err == nil {
		t.Fatal("malformed payload should be a transport error")
	}
}

func TestFuncAdapter(t *testing.T) {
	called := false
	fn := Func(func(ctx context.Context, method, path string, body any, query map[string]string) (*Result, error) {
		called = true
		return &Result{OK: true}, nil
	})
	result, err := fn.Do(context.Background(), http.MethodGet, "/x", nil, nil)
	if err != nil || !result.OK || !called {
		t.Errorf("adapter did not delegate: %v %v %v", result, err, called)
	}
}
