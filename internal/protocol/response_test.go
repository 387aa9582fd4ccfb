package protocol

import (
	"strings"
	"testing"
	"time"
)

func buildRaw(statusLine string, headers map[string]string, body string) []byte {
	var b strings.Builder
	b.WriteString(statusLine)
	b.WriteString("\r\n")
	for k, v := range headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func TestParseResponseBasicFields(t *testing.T) {
	raw := buildRaw("HTTP/1.1 200 OK", map[string]string{
		"Content-Length": "5",
		"Content-Type":   "text/plain",
	}, "hello")

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.StatusCode != 200 || resp.StatusMessage != "OK" {
		t.Fatalf("unexpected status: %d %s", resp.StatusCode, resp.StatusMessage)
	}
	if resp.ContentLength != 5 {
		t.Fatalf("expected ContentLength 5, got %d", resp.ContentLength)
	}
	if string(resp.Body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", resp.Body)
	}
}

func TestParseResponseDetectsChunked(t *testing.T) {
	raw := buildRaw("HTTP/1.1 200 OK", map[string]string{
		"Transfer-Encoding": "chunked",
	}, "")

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !resp.IsChunked {
		t.Fatalf("expected IsChunked true")
	}
}

func TestCacheControlNoStore(t *testing.T) {
	raw := buildRaw("HTTP/1.1 200 OK", map[string]string{
		"Cache-Control": "no-store",
	}, "")

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !resp.NoStore || resp.CacheMode != CacheNoStore {
		t.Fatalf("expected NoStore/CacheNoStore, got NoStore=%v mode=%v", resp.NoStore, resp.CacheMode)
	}
	if resp.IsCacheable(false) {
		t.Fatalf("no-store response must not be cacheable")
	}
}

func TestCacheControlSMaxAgeAppliesOnlyWhenPublic(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	raw := buildRaw("HTTP/1.1 200 OK", map[string]string{
		"Date":          FormatHTTPDate(now),
		"Cache-Control": "public, s-maxage=120, max-age=10",
	}, "")

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.MaxAge != 120 {
		t.Fatalf("expected s-maxage to win over max-age, got MaxAge=%d", resp.MaxAge)
	}
	wantExpire := FormatHTTPDate(now.Add(120 * time.Second))
	if resp.ExpireTime != wantExpire {
		t.Fatalf("expected ExpireTime %q, got %q", wantExpire, resp.ExpireTime)
	}
}

func TestCacheControlSMaxAgeIgnoredWhenPrivate(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	raw := buildRaw("HTTP/1.1 200 OK", map[string]string{
		"Date":          FormatHTTPDate(now),
		"Cache-Control": "private, s-maxage=120, max-age=10",
	}, "")

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.MaxAge != 10 {
		t.Fatalf("expected s-maxage to be ignored for a private response, got MaxAge=%d", resp.MaxAge)
	}
}

func TestMustRevalidateGuardIsNotVacuous(t *testing.T) {
	// Resolves the redundant "!no_cache && !no_cache" guard in
	// original_source/response.cpp:101 as !no_cache && !must_revalidate.
	raw := buildRaw("HTTP/1.1 200 OK", map[string]string{
		"Cache-Control": "must-revalidate",
	}, "")

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.CacheMode != CacheMustRevalidate {
		t.Fatalf("expected CacheMustRevalidate, got %v", resp.CacheMode)
	}
	if resp.NeedsRevalidation() == false {
		t.Fatalf("must-revalidate response should require revalidation")
	}
}

func TestExpireTimeHeuristicFromLastModified(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	lastModified := now.Add(-100 * time.Second)
	raw := buildRaw("HTTP/1.1 200 OK", map[string]string{
		"Date":          FormatHTTPDate(now),
		"Last-Modified": FormatHTTPDate(lastModified),
	}, "")

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	wantExpire := FormatHTTPDate(now.Add(10 * time.Second))
	if resp.ExpireTime != wantExpire {
		t.Fatalf("expected heuristic expire %q, got %q", wantExpire, resp.ExpireTime)
	}
}

func TestIsExpired(t *testing.T) {
	resp := NewResponse()
	resp.ExpireTime = FormatHTTPDate(time.Now().Add(-time.Minute))
	if !resp.IsExpired(time.Now()) {
		t.Fatalf("expected past ExpireTime to be expired")
	}

	resp.ExpireTime = FormatHTTPDate(time.Now().Add(time.Minute))
	if resp.IsExpired(time.Now()) {
		t.Fatalf("expected future ExpireTime to not be expired")
	}
}

func TestIsCacheableRejectsNon200AndPrivate(t *testing.T) {
	resp := NewResponse()
	resp.StatusCode = 404
	if resp.IsCacheable(false) {
		t.Fatalf("404 must not be cacheable")
	}

	resp.StatusCode = 200
	resp.Visibility = VisibilityPrivate
	if resp.IsCacheable(false) {
		t.Fatalf("private response must not be cacheable in a shared cache")
	}
}

func TestAppendBodyUpdatesContentLength(t *testing.T) {
	resp := NewResponse()
	resp.AppendBody([]byte("abc"))
	resp.AppendBody([]byte("de"))
	if string(resp.Body) != "abcde" {
		t.Fatalf("expected concatenated body, got %q", resp.Body)
	}
	if resp.Header["Content-Length"] != "5" {
		t.Fatalf("expected Content-Length 5, got %q", resp.Header["Content-Length"])
	}
}

func TestBytesRoundTrip(t *testing.T) {
	raw := buildRaw("HTTP/1.1 200 OK", map[string]string{
		"Content-Length": "5",
	}, "hello")

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	again, err := ParseResponse(resp.Bytes())
	if err != nil {
		t.Fatalf("re-parse of Bytes() output failed: %v", err)
	}
	if again.StatusCode != 200 || string(again.Body) != "hello" {
		t.Fatalf("round-trip mismatch: %+v", again)
	}
}
