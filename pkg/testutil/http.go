// Package testutil provides helpers shared by HTTP-facing tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Stub is an HTTP server that answers every request with a fixed status and
// body and remembers what it was asked.
type Stub struct {
	*httptest.Server

	mu      sync.Mutex
	hits    int
	queries []url.Values
}

// NewStub starts a Stub that is closed when the test ends. A JSON content
// type is set on every response.
func NewStub(t *testing.T, status int, body string) *Stub {
	t.Helper()
	s := &Stub{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits++
		s.queries = append(s.queries, r.URL.Query())
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

// Hits counts the requests served so far.
func (s *Stub) Hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

// LastQuery returns the query string of the most recent request.
func (s *Stub) LastQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return nil
	}
	return s.queries[len(s.queries)-1]
}

// DoRequest executes a request against a handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// Get runs a GET for path against handler and returns the status and body.
func Get(t *testing.T, handler http.Handler, path string) (int, string) {
	t.Helper()
	rr := DoRequest(handler, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err, "failed to read response body")
	return rr.Code, string(body)
}
