// Package transport defines the request contract the offline layer consumes
// and an HTTP client implementing it against the cloud IM API.
package transport

import (
	"context"
	"encoding/json"
)

// APIError is the structured error payload returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic ok/data/error envelope of the IM API.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v any) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Requester performs a request against the IM API. A non-nil error means the
// request never produced an envelope (transport failure); server-side
// rejections come back as a Result with OK=false.
type Requester interface {
	Do(ctx context.Context, method, path string, body any, query map[string]string) (*Result, error)
}

// Func adapts a plain function to the Requester interface.
type Func func(ctx context.Context, method, path string, body any, query map[string]string) (*Result, error)

// Do implements Requester.
func (f Func) Do(ctx context.Context, method, path string, body any, query map[string]string) (*Result, error) {
	return f(ctx, method, path, body, query)
}
