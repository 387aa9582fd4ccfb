package acceptor

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/divergen371/cacheproxy/internal/cache"
	"github.com/divergen371/cacheproxy/internal/ratelimit"
	"github.com/divergen371/cacheproxy/internal/translog"
)

func newAcceptor(t *testing.T) *Acceptor {
	t.Helper()
	c := cache.New(10, time.Hour)
	txLog, err := translog.Open(t.TempDir() + "/transaction.log")
	if err != nil {
		t.Fatalf("translog.Open: %v", err)
	}
	t.Cleanup(func() { txLog.Close() })

	return New("127.0.0.1:0", c, txLog, nil)
}

func TestAcceptorRejectsUnsupportedMethod(t *testing.T) {
	a := newAcceptor(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.Close()
	a.Addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to bind.
	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", a.Addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial acceptor: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("TRACE / HTTP/1.1\r\nHost: example.invalid\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !stringsContains(line, "501") {
		t.Fatalf("expected 501 status line, got %q", line)
	}

	a.Stop()
	<-done
}

func TestAcceptorStopWaitsForInFlightConnections(t *testing.T) {
	a := newAcceptor(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.Close()
	a.Addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", a.Addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial acceptor: %v", err)
	}
	// Close the client side so the in-flight handler's blocking read
	// unblocks quickly instead of sitting on its 30s receive timeout.
	conn.Close()

	stopDone := make(chan struct{})
	go func() {
		a.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return promptly")
	}
	<-runDone
}

func TestAcceptorRateLimitBlocksExcessConnections(t *testing.T) {
	a := newAcceptor(t)
	a.RateLimit = ratelimit.New(1, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.Close()
	a.Addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Stop()

	for i := 0; i < 50; i++ {
		if _, err := net.Dial("tcp", a.Addr); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The readiness probe above already spent this IP's single burst
	// token, so with 1 request/second the next connections within the
	// same second are refused: each gets a 503 and is closed.
	first, err := net.Dial("tcp", a.Addr)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer first.Close()

	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", a.Addr)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, err := second.Read(buf)
	if n == 0 && err != nil {
		t.Fatalf("expected a 503 response before the rate-limited connection closed, got n=%d err=%v", n, err)
	}
	if !stringsContains(string(buf[:n]), "503") {
		t.Fatalf("expected a 503 Service Unavailable response, got %q", string(buf[:n]))
	}
}

func stringsContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

