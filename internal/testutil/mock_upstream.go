package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockUpstreamResponse overrides the reply to one request.
type MockUpstreamResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// MockUpstream is a bookmark-paginated REST API for testing HTTP sources.
// GET /{resource}?page_size=N&bookmark=B returns {"items": [...], "bookmark": "..."}
// where the bookmark is the decimal offset of the next page.
type MockUpstream struct {
	server *httptest.Server

	mu        sync.Mutex
	items     map[string][]json.RawMessage
	token     string
	remaining int
	queued    []MockUpstreamResponse

	// Tracking
	requestCount      int
	lastRequestHeader http.Header
	lastQuery         []string
}

// NewMockUpstream starts a mock upstream. Every response reports a healthy
// quota until SetRemaining is called.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		items:     make(map[string][]json.RawMessage),
		remaining: 100,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the base URL of the mock upstream.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// SetItems sets the listing served for resource.
func (m *MockUpstream) SetItems(resource string, items []json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[resource] = items
}

// RequireToken makes the server answer 401 unless the bearer token matches.
func (m *MockUpstream) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// SetRemaining sets the X-RateLimit-Remaining value reported by responses.
func (m *MockUpstream) SetRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = n
}

// Enqueue makes the next requests return resp, in order, before normal
// listing responses resume.
func (m *MockUpstream) Enqueue(resp ...MockUpstreamResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, resp...)
}

// RequestCount returns the number of requests received.
func (m *MockUpstream) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// LastRequestHeader returns the headers of the latest request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequestHeader
}

// LastQuery returns the raw query string of the latest request.
func (m *MockUpstream) LastQuery() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lastQuery) == 0 {
		return ""
	}
	return m.lastQuery[len(m.lastQuery)-1]
}

func (m *MockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.lastRequestHeader = r.Header.Clone()
	m.lastQuery = append(m.lastQuery, r.URL.RawQuery)
	remaining := m.remaining
	token := m.token
	var queued *MockUpstreamResponse
	if len(m.queued) > 0 {
		queued = &m.queued[0]
		m.queued = m.queued[1:]
	}
	items, found := m.items[strings.Trim(r.URL.Path, "/")]
	m.mu.Unlock()

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", "60")
	w.Header().Set("Content-Type", "application/json")

	if queued != nil {
		for k, v := range queued.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(queued.StatusCode)
		w.Write([]byte(queued.Body))
		return
	}

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
		return
	}

	q := r.URL.Query()
	size, err := strconv.Atoi(q.Get("page_size"))
	if err != nil || size <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad page_size"}`))
		return
	}
	offset := 0
	if b := q.Get("bookmark"); b != "" {
		offset, err = strconv.Atoi(b)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad bookmark"}`))
			return
		}
	}

	start := min(offset, len(items))
	end := min(start+size, len(items))
	body := struct {
		Items    []json.RawMessage `json:"items"`
		Bookmark string            `json:"bookmark,omitempty"`
	}{Items: items[start:end]}
	if end < len(items) {
		body.Bookmark = strconv.Itoa(end)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
