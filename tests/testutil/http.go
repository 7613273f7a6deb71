package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DoJSON sends a request with an optional JSON body to h and returns the recorder
func DoJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = ToJSONReader(t, body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeJSON parses the recorder body into T
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "Failed to parse JSON response: %s", w.Body.String())
	return out
}

// AssertSuccessResponse asserts a {"success": true} envelope
func AssertSuccessResponse(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	resp := DecodeJSON[map[string]any](t, w)
	assert.Equal(t, true, resp["success"], "Expected success to be true: %s", w.Body.String())
	assert.Nil(t, resp["error"], "Expected no error")
}

// AssertErrorResponse asserts an error envelope with expectedCode
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	resp := DecodeJSON[map[string]any](t, w)
	assert.Equal(t, false, resp["success"], "Expected success to be false")
	errMap, ok := resp["error"].(map[string]any)
	require.True(t, ok, "Expected error object in response: %s", w.Body.String())
	assert.Equal(t, expectedCode, errMap["code"], "Unexpected error code")
}

// ToJSONReader marshals v into a reader
func ToJSONReader(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "Failed to marshal to JSON")
	return bytes.NewReader(data)
}
