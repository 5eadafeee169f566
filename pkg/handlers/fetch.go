// SPDX-License-Identifier: Apache-2.0
package handlers

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBytes     = 512 * 1024
	fetchUserAgent      = "tekhne/0.1 (http-fetch)"
)

// FetchConfig bounds the http-fetch handler.
type FetchConfig struct {
	// Timeout covers the whole request. Zero means 30s.
	Timeout time.Duration
	// MaxBytes caps how much of the body is read. Zero means 512 KiB.
	MaxBytes int64
	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
}

// NewFetchHandler builds the http-fetch handler. It performs GET requests
// only; the url argument must be absolute http or https. A max_bytes
// argument can lower the configured cap, never raise it. HTML responses
// are reduced to readable text.
func NewFetchHandler(cfg FetchConfig) core.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return core.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		rawURL, _ := args["url"].(string)
		if err := validateFetchURL(rawURL); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "url argument is invalid", err)
		}

		maxBytes := cfg.MaxBytes
		if n, ok := numericArg(args["max_bytes"]); ok && n > 0 && n < maxBytes {
			maxBytes = n
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "building request", err)
		}
		req.Header.Set("User-Agent", fetchUserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json,text/plain,*/*")

		resp, err := client.Do(req)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "http fetch failed", err).
				WithContext("url", rawURL).
				WithRecoverable(true)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "reading response body", err).
				WithContext("url", rawURL).
				WithRecoverable(true)
		}
		truncated := int64(len(body)) > maxBytes
		if truncated {
			body = body[:maxBytes]
		}

		if resp.StatusCode >= 400 {
			recoverable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
			return nil, errors.New(errors.CodeInternal, fmt.Sprintf("server returned %s", resp.Status), nil).
				WithContext("url", rawURL).
				WithContext("status", resp.StatusCode).
				WithRecoverable(recoverable)
		}

		text := string(body)
		extractor := "raw"
		if isHTML(resp.Header.Get("Content-Type"), text) {
			text = normalizeText(stripHTML(text))
			extractor = "html"
		}

		return map[string]any{
			"url":       rawURL,
			"final_url": resp.Request.URL.String(),
			"status":    resp.StatusCode,
			"extractor": extractor,
			"length":    len(text),
			"truncated": truncated,
			"text":      text,
		}, nil
	})
}

func validateFetchURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http and https urls are allowed")
	}
	if u.Host == "" {
		return fmt.Errorf("url is missing a host")
	}
	return nil
}

// numericArg reads an argument that arrives as int from YAML or float64
// from JSON.
func numericArg(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func isHTML(contentType, body string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := strings.TrimSpace(body)
	return len(trimmed) >= 9 && strings.EqualFold(trimmed[:9], "<!doctype")
}

var (
	scriptRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style.*?</style>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML drops script and style blocks, removes tags, and decodes
// entities.
func stripHTML(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

// normalizeText collapses runs of spaces and blank lines.
func normalizeText(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(blankRe.ReplaceAllString(s, "\n\n"))
}
