// Package handler implements the per-connection protocol state machine
// (spec.md §4.5): dispatch to GET / POST / CONNECT, cache lookup and
// revalidation, chunked/large-body streaming, and tunnel relay. It is
// grounded on original_source/proxy.cpp's receiveClient/processGet/
// processPost/processConnect/sendErrorResponse.
package handler

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/divergen371/cacheproxy/internal/access"
	"github.com/divergen371/cacheproxy/internal/cache"
	"github.com/divergen371/cacheproxy/internal/metrics"
	"github.com/divergen371/cacheproxy/internal/protocol"
	"github.com/divergen371/cacheproxy/internal/translog"
	"github.com/divergen371/cacheproxy/internal/upstream"
)

const (
	clientReceiveTimeout  = 30 * time.Second
	initialOriginTimeout  = 5 * time.Second
	tunnelIdleTimeout     = 10500 * time.Millisecond
	longResponseThreshold = 65536
)

// Transaction owns one accepted client connection from receipt through
// completion. A new Transaction is created per connection by the acceptor.
type Transaction struct {
	ID       int
	Client   net.Conn
	ClientIP string

	Cache   *cache.Cache
	TxLog   *translog.Logger
	Metrics *metrics.Collector // optional; nil disables metrics recording
	Access  *access.List       // optional; nil disables domain blocking
}

// New constructs a Transaction for an accepted connection.
func New(id int, client net.Conn, clientIP string, c *cache.Cache, txlog *translog.Logger, m *metrics.Collector) *Transaction {
	return &Transaction{ID: id, Client: client, ClientIP: clientIP, Cache: c, TxLog: txlog, Metrics: m}
}

// WithAccess attaches a blocklist to be checked once the request's target
// host is known, returning the same Transaction for chaining.
func (t *Transaction) WithAccess(a *access.List) *Transaction {
	t.Access = a
	return t
}

// Handle runs the full S0-S7 state machine for one connection. A panic
// anywhere below is recovered here so one broken request can never bring
// down the acceptor, mirroring original_source/proxy.cpp:receiveClient's
// outer try/catch.
func (t *Transaction) Handle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.TxLog.Error(translog.ProxyWide, fmt.Sprintf("unhandled panic: %v", r))
		}
	}()

	raw, err := upstream.ReceiveBurst(t.Client, clientReceiveTimeout)
	if err != nil || len(raw) == 0 {
		t.TxLog.Error(translog.ProxyWide, "Empty request received")
		return
	}

	req, err := protocol.ParseRequest(raw)
	if err != nil {
		t.TxLog.Error(translog.ProxyWide, "Fail to parse request")
		t.sendErrorResponse(400, "Bad Request")
		return
	}

	t.TxLog.NewRequest(t.ID, req.RequestLine, t.ClientIP)
	if t.Metrics != nil {
		t.Metrics.RecordRequest(req.Method)
	}

	if t.Access != nil && t.Access.IsBlocked(t.ClientIP, req.Host) {
		t.TxLog.Note(t.ID, fmt.Sprintf("Blocked request to %s", req.Host))
		if t.Metrics != nil {
			t.Metrics.RecordBlocked()
		}
		t.sendErrorResponse(403, "Forbidden")
		return
	}

	switch req.Method {
	case "GET":
		t.processGet(ctx, req)
	case "POST":
		t.processPost(ctx, req)
	case "CONNECT":
		t.processConnect(ctx, req)
	default:
		t.TxLog.Error(t.ID, fmt.Sprintf("Method %s not found", req.Method))
		t.sendErrorResponse(501, "Not implement method request")
	}
}

// sendErrorResponse writes a minimal HTML error page; it does not close
// the connection (the acceptor closes it once Handle returns), matching original_source/proxy.cpp:sendErrorResponse. The Responding
// log line always uses the proxy-wide id, as the original does.
func (t *Transaction) sendErrorResponse(statusCode int, reason string) {
	statusLine := fmt.Sprintf("HTTP/1.1 %d %s", statusCode, reason)
	body := fmt.Sprintf(
		"<html><head><title>%d %s</title></head><body><h1>%d %s</h1><p>Proxy Error</p></body></html>",
		statusCode, reason, statusCode, reason,
	)

	resp := fmt.Sprintf(
		"%s\r\nContent-Type: text/html\r\nConnection: close\r\nContent-Length: %d\r\n\r\n%s",
		statusLine, len(body), body,
	)

	t.Client.Write([]byte(resp))
	t.TxLog.Responding(translog.ProxyWide, statusLine)
}

// effectivePort resolves the request's port, falling back to defaultPort
// when the Host header carried none. A non-numeric port is returned as is
// and makes the later dial fail.
func effectivePort(req *protocol.Request, defaultPort string) string {
	return req.EffectivePort(defaultPort)
}
