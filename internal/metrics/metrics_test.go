package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"gemini", "https://generativelanguage.googleapis.com/v1beta", "generativelanguage.googleapis.com"},
		{"mixed case", "https://API.OpenAI.com/v1", "api.openai.com"},
		{"no scheme", "llm.internal/v1", "llm.internal"},
		{"host with port", "localhost:11434", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || generationCallsTotal == nil ||
		fetchRetriesTotal == nil || busyRejectionsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	before := testutil.ToFloat64(fetchRetriesTotal.WithLabelValues("gemini generateContent"))
	ObserveRetry("gemini generateContent", 2*time.Second)
	if got := testutil.ToFloat64(fetchRetriesTotal.WithLabelValues("gemini generateContent")); got != before+1 {
		t.Errorf("expected retries to increase by 1, got %f -> %f", before, got)
	}

	ObserveGeneration("https://generativelanguage.googleapis.com/v1beta", "ok")
	if got := testutil.ToFloat64(generationCallsTotal.WithLabelValues("generativelanguage.googleapis.com", "ok")); got < 1 {
		t.Errorf("expected generation call to be counted, got %f", got)
	}

	SetArchiveSize(7)
	if got := testutil.ToFloat64(archiveSize); got != 7 {
		t.Errorf("expected archive gauge 7, got %f", got)
	}

	before = testutil.ToFloat64(busyRejectionsTotal)
	ObserveBusyRejection()
	if got := testutil.ToFloat64(busyRejectionsTotal); got != before+1 {
		t.Errorf("expected busy rejections to increase by 1")
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://generativelanguage.googleapis.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
