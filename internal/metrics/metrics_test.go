package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlerPagesTotal == nil || crawlerBytesTotal == nil ||
		crawlerDedupResultsTotal == nil || crawlerRenderTimeoutsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObservePage("http://test.com/page", "succeeded", 1024)
	if val := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("test.com", "succeeded")); val != 1 {
		t.Errorf("Expected crawlerPagesTotal to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("test.com")); val != 1024 {
		t.Errorf("Expected crawlerBytesTotal to be 1024, got %f", val)
	}
}

func TestObserveDedup(t *testing.T) {
	Init()

	ObserveDedup("exact")
	ObserveDedup("exact")
	ObserveDedup("near_duplicate")

	if val := testutil.ToFloat64(crawlerDedupResultsTotal.WithLabelValues("exact")); val != 2 {
		t.Errorf("Expected exact dedup count 2, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerDedupResultsTotal.WithLabelValues("near_duplicate")); val != 1 {
		t.Errorf("Expected near_duplicate dedup count 1, got %f", val)
	}
}

func TestRenderObserver(t *testing.T) {
	Init()

	before := testutil.ToFloat64(crawlerRenderTimeoutsTotal)
	var obs RenderObserver
	obs.RenderTimedOut()
	obs.RenderFailed()
	obs.RenderSucceeded(2 * time.Second)

	if val := testutil.ToFloat64(crawlerRenderTimeoutsTotal); val != before+1 {
		t.Errorf("Expected render timeouts to increment by 1, got %f", val-before)
	}
	if val := testutil.ToFloat64(crawlerRenderErrorsTotal); val < 1 {
		t.Errorf("Expected render errors >= 1, got %f", val)
	}
	if count := testutil.CollectAndCount(crawlerRenderDurationSeconds); count <= 0 {
		t.Errorf("Expected render duration to be observed, got %d", count)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
