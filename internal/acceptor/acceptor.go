// Package acceptor runs the proxy's TCP accept loop: one goroutine per
// connection, a monotonic request-id counter, a rate-limit gate ahead of
// the handler (the access-control list is handed to the handler, which
// checks it once the request's Host is parsed), and a tracked goroutine registry
// so Stop can wait for in-flight work to finish. Grounded on root
// main.go's Proxy.Start/handleConnection, generalized with
// original_source/proxy.cpp:run/stop's 30-second client receive timeout
// and graceful-shutdown shape.
package acceptor

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/divergen371/cacheproxy/internal/access"
	"github.com/divergen371/cacheproxy/internal/cache"
	"github.com/divergen371/cacheproxy/internal/handler"
	"github.com/divergen371/cacheproxy/internal/metrics"
	"github.com/divergen371/cacheproxy/internal/ratelimit"
	"github.com/divergen371/cacheproxy/internal/translog"
)

// clientReceiveTimeout matches original_source/proxy.cpp:run's
// SO_RCVTIMEO of 30 seconds on every accepted client socket.
const clientReceiveTimeout = 30 * time.Second

// Acceptor owns the listening socket and every in-flight Transaction.
type Acceptor struct {
	Addr string

	Cache     *cache.Cache
	TxLog     *translog.Logger
	Metrics   *metrics.Collector
	Access    *access.List
	RateLimit *ratelimit.Limiter

	listener net.Listener
	wg       sync.WaitGroup
	nextID   int64

	mu      sync.Mutex
	closing bool
}

// New constructs an Acceptor bound to addr (e.g. ":10080"). Access and
// RateLimit may be left nil on the returned value to disable those gates.
func New(addr string, c *cache.Cache, txlog *translog.Logger, m *metrics.Collector) *Acceptor {
	return &Acceptor{Addr: addr, Cache: c, TxLog: txlog, Metrics: m}
}

// Run starts listening and blocks, accepting connections until ctx is
// canceled or Stop is called. Mirrors root main.go's Proxy.Start; no log
// line is written per accepted connection.
func (a *Acceptor) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return fmt.Errorf("acceptor: failed to listen on %s: %w", a.Addr, err)
	}
	a.listener = listener

	go func() {
		<-ctx.Done()
		a.Stop()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			a.mu.Lock()
			closing := a.closing
			a.mu.Unlock()
			if closing {
				return nil
			}
			continue
		}

		a.wg.Add(1)
		go a.handle(ctx, conn)
	}
}

// Stop closes the listening socket and waits for every in-flight
// Transaction to finish, matching original_source/proxy.cpp:stop.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return
	}
	a.closing = true
	a.mu.Unlock()

	if a.listener != nil {
		a.listener.Close()
	}
	a.wg.Wait()
}

func (a *Acceptor) handle(ctx context.Context, conn net.Conn) {
	defer a.wg.Done()
	defer conn.Close()

	if a.Metrics != nil {
		a.Metrics.ActiveConnections.Inc()
		defer a.Metrics.ActiveConnections.Dec()
	}

	conn.SetReadDeadline(time.Now().Add(clientReceiveTimeout))

	clientIP := remoteIP(conn)

	if a.RateLimit != nil && !a.RateLimit.Allow(clientIP) {
		if a.Metrics != nil {
			a.Metrics.RecordBlocked()
		}
		conn.Write([]byte("HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"))
		return
	}

	id := int(atomic.AddInt64(&a.nextID, 1))
	txn := handler.New(id, conn, clientIP, a.Cache, a.TxLog, a.Metrics).WithAccess(a.Access)
	txn.Handle(ctx)
}

// remoteIP strips the port off conn.RemoteAddr(), mirroring root
// main.go's handleConnection.
func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
