package handler

import (
	"context"
	"fmt"

	"github.com/divergen371/cacheproxy/internal/cache"
	"github.com/divergen371/cacheproxy/internal/protocol"
	"github.com/divergen371/cacheproxy/internal/upstream"
)

// processGet implements spec.md §4.5's S2-S5d: cache lookup, optional
// conditional revalidation, and either serving the cached copy or fetching
// and (if cacheable) storing a fresh one. Grounded on
// original_source/proxy.cpp:processGet.
func (t *Transaction) processGet(ctx context.Context, req *protocol.Request) {
	fullURL := req.Host + req.Target

	status, cached := t.Cache.Get(fullURL)
	t.logCacheStatus(status, cached)

	if t.Metrics != nil {
		if status == cache.Valid {
			t.Metrics.CacheHits.Inc()
		} else {
			t.Metrics.CacheMisses.Inc()
		}
	}

	if status == cache.Valid {
		t.Client.Write(cached.Bytes())
		t.TxLog.Responding(t.ID, cached.StatusLine())
		return
	}

	if status == cache.RequiresValidation {
		if served := t.revalidate(ctx, req, fullURL, cached); served {
			return
		}
		// Falls through to a fresh fetch below, exactly as
		// original_source/proxy.cpp does on a failed or negative
		// revalidation attempt.
	}

	t.fetchAndRespond(ctx, req, fullURL)
}

// logCacheStatus emits the log line appropriate to a cache lookup result,
// matching original_source/proxy.cpp's log_cache_request call sites.
func (t *Transaction) logCacheStatus(status cache.Status, cached *protocol.Response) {
	switch status {
	case cache.NotInCache:
		t.TxLog.NotInCache(t.ID)
	case cache.Expired:
		t.TxLog.Expired(t.ID, cached.ExpireTime)
	case cache.RequiresValidation:
		t.TxLog.RequiresValidation(t.ID)
	case cache.Valid:
		t.TxLog.Valid(t.ID)
	}
}

// revalidate opens a fresh origin connection and issues a conditional
// request built from the cached copy's validators. It returns true if the
// client has already been answered (the cached copy after a 304, or a 502
// when the origin cannot be reached), false if the caller should fall
// through to an unconditional fetch.
func (t *Transaction) revalidate(ctx context.Context, req *protocol.Request, fullURL string, cached *protocol.Response) bool {
	port := effectivePort(req, "80")

	conn, err := upstream.Dial(ctx, req.Host, port)
	if err != nil {
		t.TxLog.Error(t.ID, "Failed to connect to server for validation")
		t.sendErrorResponse(502, "Bad Gateway")
		return true
	}
	defer conn.Close()

	validation := *req
	etag := cached.ETag()
	lastModified := cached.LastModified()

	if etag == "" && lastModified == "" {
		t.TxLog.Note(t.ID, "Validation not possible - no validator headers")
		return false
	}
	if etag != "" {
		validation.IfNoneMatch = etag
		t.TxLog.Note(t.ID, "Using ETag for validation")
	}
	if lastModified != "" {
		validation.IfModifiedSince = lastModified
		t.TxLog.Note(t.ID, "Using Last-Modified for validation")
	}

	if err := conn.Send(validation.WriteTo()); err != nil {
		return false
	}

	raw, err := conn.Receive(upstream.ReceiveTimeout)
	if err != nil || len(raw) == 0 {
		t.TxLog.Error(t.ID, "Empty validation response from server")
		return false
	}

	resp, err := protocol.ParseResponse(raw)
	if err != nil {
		t.TxLog.Error(t.ID, "Failed to parse validation response")
		return false
	}
	t.TxLog.Received(t.ID, resp.StatusLine(), req.Host)

	if resp.StatusCode == 304 {
		t.TxLog.Note(t.ID, "Validation successful - using cached copy")
		t.Client.Write(cached.Bytes())
		t.TxLog.Responding(t.ID, cached.StatusLine())
		return true
	}

	t.TxLog.Note(t.ID, "Content changed - using new response")
	return false
}

// fetchAndRespond dials the origin unconditionally, forwards the request,
// streams the response to the client, and caches it if eligible. Covers
// S4 and S5a-S5d.
func (t *Transaction) fetchAndRespond(ctx context.Context, req *protocol.Request, fullURL string) {
	port := effectivePort(req, "80")
	t.TxLog.Requesting(t.ID, req.RequestLine, req.Host)

	conn, err := upstream.Dial(ctx, req.Host, port)
	if err != nil {
		t.TxLog.Error(t.ID, fmt.Sprintf("Failed to connect to server: %v", err))
		t.sendErrorResponse(502, "Bad Gateway")
		return
	}
	defer conn.Close()

	if err := conn.Send(req.WriteTo()); err != nil {
		t.TxLog.Error(t.ID, "Failed to forward request to server")
		t.sendErrorResponse(502, "Bad Gateway")
		return
	}

	initial, err := conn.Receive(initialOriginTimeout)
	if err != nil || len(initial) == 0 {
		t.TxLog.Error(t.ID, "Empty response from server")
		t.sendErrorResponse(502, "Bad Gateway")
		return
	}

	resp, err := protocol.ParseResponse(initial)
	if err != nil {
		t.TxLog.Error(t.ID, fmt.Sprintf("Failed to process server response: %v", err))
		t.sendErrorResponse(502, "Exception detected for GET response from server")
		return
	}

	switch {
	case resp.IsChunked:
		t.TxLog.Note(t.ID, "Detected chunked encoding")
		t.relayChunked(conn, resp, initial)
	case resp.ContentLength > longResponseThreshold:
		t.TxLog.Note(t.ID, fmt.Sprintf("Detected large content: %d bytes", resp.ContentLength))
		t.fillRemaining(conn, resp)
		t.Client.Write(resp.Bytes())
	default:
		t.fillRemaining(conn, resp)
		t.Client.Write(resp.Bytes())
	}

	t.TxLog.Received(t.ID, resp.StatusLine(), req.Host)
	if etag := resp.ETag(); etag != "" {
		t.TxLog.Note(t.ID, "ETag: "+etag)
	}
	if cc := resp.CacheControl(); cc != "" {
		t.TxLog.Note(t.ID, "Cache-Control: "+cc)
	}

	if resp.StatusCode == 200 {
		t.cacheResponse(resp, fullURL)
	}
	t.TxLog.Responding(t.ID, resp.StatusLine())
}

// fillRemaining receives the rest of a non-chunked body when the initial
// burst didn't carry the full Content-Length, per the exact-length
// framing described in DESIGN.md (resolving spec.md §9 Open Question 4).
func (t *Transaction) fillRemaining(conn *upstream.Conn, resp *protocol.Response) {
	if resp.ContentLength <= len(resp.Body) {
		return
	}
	remaining := resp.ContentLength - len(resp.Body)
	rest, err := conn.ReceiveExactly(remaining, upstream.ReceiveTimeout)
	if err == nil && len(rest) > 0 {
		resp.AppendBody(rest)
	}
}

// relayChunked forwards a chunked response to the client as it streams in,
// reassembling the whole body on resp for the cache, per
// original_source/proxy.cpp:handleChunkResponse.
func (t *Transaction) relayChunked(conn *upstream.Conn, resp *protocol.Response, initial []byte) {
	headerEnd := headerTerminatorIndex(initial)
	bodySoFar := initial[headerEnd:]
	resp.AppendChunk(bodySoFar)
	t.Client.Write(initial)

	if isChunkTerminated(resp.Body) {
		return
	}

	for {
		chunk, n, err := conn.ReceiveChunk()
		if n <= 0 || err != nil {
			break
		}
		resp.AppendChunk(chunk)
		t.Client.Write(chunk)
		if isChunkTerminated(resp.Body) {
			break
		}
	}
}

// cacheResponse applies handleCaching's eligibility check and logging,
// then stores the response if eligible.
func (t *Transaction) cacheResponse(resp *protocol.Response, fullURL string) {
	if !resp.IsCacheable(false) {
		reason := "unknown"
		switch {
		case resp.StatusCode != 200:
			reason = "status code is not 200 OK"
		case resp.NoStore:
			reason = "no-store directive"
		case resp.CacheMode == protocol.CacheNoStore:
			reason = "cache-control: no-store"
		case resp.Visibility == protocol.VisibilityPrivate:
			reason = "private response in shared cache"
		}
		t.TxLog.NotCacheable(t.ID, reason)
		return
	}

	if resp.ExpireTime != "" {
		t.TxLog.WillExpire(t.ID, resp.ExpireTime)
	} else if resp.NoCache || resp.MustRevalidate {
		t.TxLog.CachedRequiresRevalidation(t.ID)
	}
	t.Cache.Put(fullURL, resp)
}

const chunkTerminator = "0\r\n\r\n"

func isChunkTerminated(chunk []byte) bool {
	if len(chunk) < len(chunkTerminator) {
		return false
	}
	return string(chunk[len(chunk)-len(chunkTerminator):]) == chunkTerminator
}

// headerTerminatorIndex finds where the header block ends ("\r\n\r\n") so
// the body bytes already present in the initial burst can be split off.
func headerTerminatorIndex(raw []byte) int {
	const terminator = "\r\n\r\n"
	for i := 0; i+len(terminator) <= len(raw); i++ {
		if string(raw[i:i+len(terminator)]) == terminator {
			return i + len(terminator)
		}
	}
	return len(raw)
}
