// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Record is the synthetic record shape served by the mock API.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RequestLog captures the parameters of one request for assertions.
type RequestLog struct {
	Query  string
	Filter string
	From   int
	Size   int
}

// MockSearch is a configurable windowed search API double. It serves
// {total, hits} pages over collections of synthetic records, enforces
// from + size <= window limit, and supports failure injection.
type MockSearch struct {
	server *httptest.Server

	mu          sync.Mutex
	collections map[string][]Record
	windowLimit int
	field       string

	failStatus  int
	failTimes   int
	retryAfter  string
	truncTimes  int

	RequestCount int
	Requests     []RequestLog
}

// NewMockSearch creates a mock server enforcing the given window limit.
// The segmentation field is "name".
func NewMockSearch(windowLimit int) *MockSearch {
	mock := &MockSearch{
		collections: make(map[string][]Record),
		windowLimit: windowLimit,
		field:       "name",
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockSearch) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSearch) Close() {
	m.server.Close()
}

// SetCollection registers the records served for one extra_filter value.
// Records are sorted by name so offsets are deterministic.
func (m *MockSearch) SetCollection(filter string, records []Record) {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[filter] = sorted
}

// FailNext makes the next n requests fail with the given status. An empty
// retryAfter omits the Retry-After header.
func (m *MockSearch) FailNext(n, status int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	m.failStatus = status
	m.retryAfter = retryAfter
}

// TruncateNext makes the next n responses return 200 with a cut-off body.
func (m *MockSearch) TruncateNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncTimes = n
}

// Reset clears tracking counters and failure injection.
func (m *MockSearch) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Requests = nil
	m.failTimes = 0
	m.truncTimes = 0
}

func (m *MockSearch) handle(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	from := atoi(params.Get("from"))
	size := atoi(params.Get("size"))

	m.mu.Lock()
	m.RequestCount++
	m.Requests = append(m.Requests, RequestLog{
		Query:  params.Get("query"),
		Filter: params.Get("extra_filter"),
		From:   from,
		Size:   size,
	})

	if m.failTimes > 0 {
		m.failTimes--
		status := m.failStatus
		retryAfter := m.retryAfter
		m.mu.Unlock()
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":"injected failure"}`)
		return
	}

	truncate := false
	if m.truncTimes > 0 {
		m.truncTimes--
		truncate = true
	}

	records := m.matching(params)
	windowLimit := m.windowLimit
	m.mu.Unlock()

	if from+size > windowLimit {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":"Result window is too large, from + size must be less than or equal to: [%d]"}`, windowLimit)
		return
	}

	total := len(records)
	end := from + size
	if from > total {
		from = total
	}
	if end > total {
		end = total
	}

	page := struct {
		Total int      `json:"total"`
		Hits  []Record `json:"hits"`
	}{Total: total, Hits: records[from:end]}

	body, _ := json.Marshal(page)
	if truncate {
		body = body[:len(body)/2]
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// matching applies extra_filter and the query prefix expression.
// Caller holds the lock.
func (m *MockSearch) matching(params url.Values) []Record {
	records := m.collections[params.Get("extra_filter")]

	query := params.Get("query")
	if query == "" {
		return records
	}

	// Expressions have the form "field:prefix*".
	prefix, ok := strings.CutPrefix(query, m.field+":")
	if !ok {
		return nil
	}
	prefix = strings.TrimSuffix(prefix, "*")

	var matched []Record
	for _, record := range records {
		if strings.HasPrefix(record.Name, prefix) {
			matched = append(matched, record)
		}
	}
	return matched
}

// GenerateRecords builds n records whose names share a prefix, with unique
// IDs derived from the prefix and index.
func GenerateRecords(prefix string, n int) []Record {
	records := make([]Record, n)
	for i := 0; i < n; i++ {
		records[i] = Record{
			ID:   fmt.Sprintf("%s-%06d", prefix, i),
			Name: fmt.Sprintf("%s%06d", prefix, i),
		}
	}
	return records
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
