package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
)

// HTTPTestHelper provides utilities for HTTP testing
type HTTPTestHelper struct {
	Handler http.Handler
}

// NewHTTPTestHelper creates a new HTTP test helper
func NewHTTPTestHelper(handler http.Handler) *HTTPTestHelper {
	return &HTTPTestHelper{Handler: handler}
}

// MakeRequest creates and executes an HTTP request, returning the response
func (h *HTTPTestHelper) MakeRequest(method, path string, body interface{}) *httptest.ResponseRecorder {
	return h.MakeRequestWithHeaders(method, path, body, nil)
}

// MakeRequestWithHeaders creates and executes an HTTP request with custom headers
func (h *HTTPTestHelper) MakeRequestWithHeaders(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			panic(err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(reqBody))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rr := httptest.NewRecorder()
	h.Handler.ServeHTTP(rr, req)
	return rr
}

// ParseJSONResponse parses a JSON response body into a target struct
func ParseJSONResponse(target interface{}, body *bytes.Buffer) error {
	return json.NewDecoder(body).Decode(target)
}
