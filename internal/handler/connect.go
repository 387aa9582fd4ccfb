package handler

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/divergen371/cacheproxy/internal/protocol"
	"github.com/divergen371/cacheproxy/internal/upstream"
)

const tunnelBufferSize = 65536

// processConnect establishes a CONNECT tunnel to the target and relays
// bytes bidirectionally until either side closes or the tunnel sits idle
// past tunnelIdleTimeout. Grounded on
// original_source/proxy.cpp:processConnect.
func (t *Transaction) processConnect(ctx context.Context, req *protocol.Request) {
	port := effectivePort(req, "443")

	conn, err := upstream.Dial(ctx, req.Host, port)
	if err != nil {
		t.TxLog.Error(t.ID, fmt.Sprintf("Failed to connect to server: %v", err))
		t.sendErrorResponse(502, "Bad Gateway")
		return
	}
	defer conn.Close()

	const established = "HTTP/1.1 200 Connection established\r\n\r\n"
	if _, err := t.Client.Write([]byte(established)); err != nil {
		t.TxLog.Error(t.ID, "Failed to respond with connection established")
		return
	}
	t.TxLog.Responding(t.ID, "HTTP/1.1 200 Connection established")
	if t.Metrics != nil {
		t.Metrics.TunnelsOpened.Inc()
	}

	t.relayTunnel(ctx, conn)
	t.TxLog.TunnelClosed(t.ID)
}

// relayTunnel pumps bytes in both directions until one side closes, an
// error occurs, or the tunnel is idle for tunnelIdleTimeout.
func (t *Transaction) relayTunnel(ctx context.Context, origin *upstream.Conn) {
	done := make(chan struct{})
	var closeOnce sync.Once
	signalDone := func() { closeOnce.Do(func() { close(done) }) }

	pump := func(from net.Conn, to net.Conn, fromName, toName string) {
		defer signalDone()
		buf := make([]byte, tunnelBufferSize)
		for {
			if err := from.SetReadDeadline(deadlineAfter(tunnelIdleTimeout)); err != nil {
				return
			}
			n, err := from.Read(buf)
			if n > 0 {
				if _, werr := to.Write(buf[:n]); werr != nil {
					t.TxLog.Error(t.ID, fmt.Sprintf("Failed to forward data to %s", toName))
					return
				}
				if t.Metrics != nil {
					t.Metrics.BytesTransferred.Add(float64(n))
				}
			}
			if err != nil {
				if isTimeout(err) {
					t.TxLog.Note(t.ID, "Tunnel timeout after 10.5 seconds of inactivity")
				} else if err == io.EOF {
					t.TxLog.Note(t.ID, fmt.Sprintf("Connection closed by %s", fromName))
				}
				return
			}
		}
	}

	go pump(t.Client, origin, "client", "server")
	go pump(origin, t.Client, "server", "client")

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func deadlineAfter(d time.Duration) time.Time {
	return time.Now().Add(d)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
