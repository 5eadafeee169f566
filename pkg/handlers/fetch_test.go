package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/errors"
)

func fetchResult(t *testing.T, out any) map[string]any {
	t.Helper()
	res, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %T", out)
	}
	return res
}

func TestFetchHandlerExtractsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "tekhne") {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Docs</title><script>var x=1;</script><style>p{color:red}</style></head><body><p>Hello &amp; welcome</p></body></html>`)
	}))
	defer srv.Close()

	h := NewFetchHandler(FetchConfig{})
	out, err := h.Invoke(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	res := fetchResult(t, out)
	if res["status"] != http.StatusOK {
		t.Fatalf("unexpected status %v", res["status"])
	}
	if res["extractor"] != "html" {
		t.Fatalf("unexpected extractor %v", res["extractor"])
	}
	text := res["text"].(string)
	if !strings.Contains(text, "Hello & welcome") {
		t.Fatalf("expected decoded body text, got %q", text)
	}
	if strings.Contains(text, "var x") || strings.Contains(text, "color:red") {
		t.Fatalf("script or style leaked into text: %q", text)
	}
}

func TestFetchHandlerPlainTextPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "just text")
	}))
	defer srv.Close()

	out, err := NewFetchHandler(FetchConfig{}).Invoke(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	res := fetchResult(t, out)
	if res["extractor"] != "raw" || res["text"] != "just text" {
		t.Fatalf("unexpected result %v", res)
	}
	if res["truncated"] != false {
		t.Fatal("expected truncated=false")
	}
}

func TestFetchHandlerTruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("a", 2048))
	}))
	defer srv.Close()

	out, err := NewFetchHandler(FetchConfig{MaxBytes: 512}).Invoke(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	res := fetchResult(t, out)
	if res["truncated"] != true {
		t.Fatal("expected truncation")
	}
	if got := len(res["text"].(string)); got != 512 {
		t.Fatalf("expected 512 bytes, got %d", got)
	}
}

func TestFetchHandlerMaxBytesArgumentLowersCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("b", 2048))
	}))
	defer srv.Close()

	h := NewFetchHandler(FetchConfig{MaxBytes: 1024})

	// JSON-shaped arguments arrive as float64.
	out, err := h.Invoke(context.Background(), map[string]any{"url": srv.URL, "max_bytes": float64(100)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := len(fetchResult(t, out)["text"].(string)); got != 100 {
		t.Fatalf("expected 100 bytes, got %d", got)
	}

	// The argument cannot raise the configured cap.
	out, err = h.Invoke(context.Background(), map[string]any{"url": srv.URL, "max_bytes": 4096})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := len(fetchResult(t, out)["text"].(string)); got != 1024 {
		t.Fatalf("expected 1024 bytes, got %d", got)
	}
}

func TestFetchHandlerStatusErrors(t *testing.T) {
	cases := []struct {
		status      int
		recoverable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		_, err := NewFetchHandler(FetchConfig{}).Invoke(context.Background(), map[string]any{"url": srv.URL})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if !errors.IsCode(err, errors.CodeInternal) {
			t.Fatalf("status %d: unexpected code %v", tc.status, errors.CodeOf(err))
		}
		if errors.IsRecoverable(err) != tc.recoverable {
			t.Fatalf("status %d: expected recoverable=%v, got %v", tc.status, tc.recoverable, err)
		}
	}
}

func TestFetchHandlerRejectsBadURLs(t *testing.T) {
	bad := []any{
		nil,
		"",
		"ftp://host/file",
		"http://",
		"/relative/path",
		42,
	}
	h := NewFetchHandler(FetchConfig{})
	for _, u := range bad {
		_, err := h.Invoke(context.Background(), map[string]any{"url": u})
		if !errors.IsCode(err, errors.CodeInvalidInput) {
			t.Errorf("url %v: expected INVALID_INPUT, got %v", u, err)
		}
	}
}

func TestFetchHandlerConnectionErrorIsRecoverable(t *testing.T) {
	h := NewFetchHandler(FetchConfig{Timeout: time.Second})
	_, err := h.Invoke(context.Background(), map[string]any{"url": "http://127.0.0.1:1/"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsRecoverable(err) {
		t.Fatalf("expected recoverable error, got %v", err)
	}
}

func TestStripHTML(t *testing.T) {
	in := "<div><script>bad()</script><p>a &lt; b</p><style>x{}</style></div>"
	got := stripHTML(in)
	if got != "a < b" {
		t.Fatalf("unexpected strip result %q", got)
	}
}

func TestNormalizeText(t *testing.T) {
	in := "one\t\t two\n\n\n\n\nthree"
	got := normalizeText(in)
	if got != "one two\n\nthree" {
		t.Fatalf("unexpected normalize result %q", got)
	}
}
