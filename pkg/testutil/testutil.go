// Package testutil provides an HTTP API client, an admin client and assertion
// helpers for testing clubdesk handlers end to end.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// APIClient is an HTTP client for exercising a clubdesk server in tests.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string // sent as a bearer token when set
	t          *testing.T
}

// NewAPIClient creates a client pointed at a test server.
func NewAPIClient(t *testing.T, server *httptest.Server) *APIClient {
	return &APIClient{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		t:          t,
	}
}

// NewAPIClientURL creates a client pointed at a specific URL.
func NewAPIClientURL(t *testing.T, baseURL string) *APIClient {
	return &APIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		t:          t,
	}
}

// WithToken returns a copy of the client that authenticates with token.
func (c *APIClient) WithToken(token string) *APIClient {
	cp := *c
	cp.Token = token
	return &cp
}

// Response wraps an HTTP response with helper methods.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("failed to unmarshal response: %v\nbody: %s", err, string(r.Body))
	}
}

// JSONMap returns the response body as a map.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// ErrorMessage returns error.message from an error envelope.
func (r *Response) ErrorMessage() string {
	r.t.Helper()
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	r.JSON(&env)
	return env.Error.Message
}

// AssertStatus asserts the response has the expected status code.
func (r *Response) AssertStatus(expected int) *Response {
	r.t.Helper()
	if r.StatusCode != expected {
		r.t.Errorf("expected status %d, got %d\nbody: %s", expected, r.StatusCode, string(r.Body))
	}
	return r
}

// AssertBodyContains asserts the response body contains the given substring.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !strings.Contains(string(r.Body), substr) {
		r.t.Errorf("expected body to contain %q, got: %s", substr, string(r.Body))
	}
	return r
}

// Get performs a GET request.
func (c *APIClient) Get(path string) *Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, nil)
}

// Post performs a POST request with a JSON body.
func (c *APIClient) Post(path string, body any) *Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, nil)
}

// Put performs a PUT request with a JSON body.
func (c *APIClient) Put(path string, body any) *Response {
	c.t.Helper()
	return c.do(http.MethodPut, path, body, nil)
}

// Patch performs a PATCH request with a JSON body.
func (c *APIClient) Patch(path string, body any) *Response {
	c.t.Helper()
	return c.do(http.MethodPatch, path, body, nil)
}

// Delete performs a DELETE request.
func (c *APIClient) Delete(path string) *Response {
	c.t.Helper()
	return c.do(http.MethodDelete, path, nil, nil)
}

// PostForm performs a POST request with a form-encoded body.
func (c *APIClient) PostForm(path string, values url.Values, headers map[string]string) *Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.doReq(req)
}

// Upload posts a single file as multipart/form-data under field "file".
func (c *APIClient) Upload(path, fileName, contentType string, data []byte) *Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + fileName + `"`}
	h["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(h)
	if err != nil {
		c.t.Fatalf("failed to create multipart part: %v", err)
	}
	part.Write(data)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.doReq(req)
}

// DoWithHeaders performs a request with custom headers.
func (c *APIClient) DoWithHeaders(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()
	return c.do(method, path, body, headers)
}

func (c *APIClient) do(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.doReq(req)
}

func (c *APIClient) doReq(req *http.Request) *Response {
	c.t.Helper()

	if c.Token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("failed to read response: %v", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    resp.Header,
		t:          c.t,
	}
}

// AdminClient provides convenience methods for the /admin/* control plane.
type AdminClient struct {
	*APIClient
}

// NewAdminClient creates an admin client from an API client.
func NewAdminClient(c *APIClient) *AdminClient {
	return &AdminClient{c}
}

// Reset calls POST /admin/reset.
func (ac *AdminClient) Reset() *Response {
	ac.t.Helper()
	return ac.Post("/admin/reset", nil)
}

// GetState calls GET /admin/state.
func (ac *AdminClient) GetState() *Response {
	ac.t.Helper()
	return ac.Get("/admin/state")
}

// LoadState calls POST /admin/state with the given state data.
func (ac *AdminClient) LoadState(state any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/state", state)
}

// GetRequests calls GET /admin/requests.
func (ac *AdminClient) GetRequests() *Response {
	ac.t.Helper()
	return ac.Get("/admin/requests")
}

// Webhooks calls GET /admin/webhooks.
func (ac *AdminClient) Webhooks() *Response {
	ac.t.Helper()
	return ac.Get("/admin/webhooks")
}

// FlushWebhooks calls POST /admin/webhooks/flush.
func (ac *AdminClient) FlushWebhooks() *Response {
	ac.t.Helper()
	return ac.Post("/admin/webhooks/flush", nil)
}

// AdvanceTime calls POST /admin/time/advance.
func (ac *AdminClient) AdvanceTime(duration string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/time/advance", map[string]string{"duration": duration})
}

// Health calls GET /admin/health.
func (ac *AdminClient) Health() *Response {
	ac.t.Helper()
	return ac.Get("/admin/health")
}
