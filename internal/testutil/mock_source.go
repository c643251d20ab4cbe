// Package testutil provides testing utilities for the feed packages.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/record"
)

// PostsPath is the path the mock upstream serves the record list on.
const PostsPath = "/posts"

// MockResponse defines the behavior for a mock upstream response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSource is a configurable mock upstream for testing.
type MockSource struct {
	server   *httptest.Server
	mu       sync.RWMutex
	response MockResponse

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	LastRawQuery      string
}

// NewMockSource creates a mock upstream serving the given records.
func NewMockSource(records []record.Record) *MockSource {
	mock := &MockSource{
		response: NewRecordsResponse(records),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastRawQuery = r.URL.RawQuery
		resp := mock.response
		mock.mu.Unlock()

		if r.URL.Path != PostsPath {
			http.NotFound(w, r)
			return
		}

		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the full record list URL.
func (m *MockSource) URL() string {
	return m.server.URL + PostsPath
}

// BaseURL returns the mock server root URL.
func (m *MockSource) BaseURL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSource) Close() {
	m.server.Close()
}

// SetResponse replaces the canned response.
func (m *MockSource) SetResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSource) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockSource) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// GetLastRawQuery returns the query string of the most recent request.
func (m *MockSource) GetLastRawQuery() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRawQuery
}

// NewRecordsResponse creates a 200 OK response carrying the records as JSON.
func NewRecordsResponse(records []record.Record) MockResponse {
	if records == nil {
		records = []record.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		panic(fmt.Sprintf("marshal records: %v", err))
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(data),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewHTMLResponse creates a 200 OK response whose body is not JSON.
func NewHTMLResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       "<!doctype html><title>maintenance</title>",
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}
}
