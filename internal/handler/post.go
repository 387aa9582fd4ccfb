package handler

import (
	"context"
	"fmt"

	"github.com/divergen371/cacheproxy/internal/protocol"
	"github.com/divergen371/cacheproxy/internal/upstream"
)

// processPost forwards a POST request and its body to the origin and
// relays the response to the client (chunked bodies as received, others
// re-serialized from the parsed response); POST responses are never cached. Grounded
// on original_source/proxy.cpp:processPost.
func (t *Transaction) processPost(ctx context.Context, req *protocol.Request) {
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
		t.sendErrorResponse(502, "Exception detected for POST response from server")
		return
	}

	switch {
	case resp.IsChunked:
		t.TxLog.Note(t.ID, "Detected chunked encoding")
		t.relayChunked(conn, resp, initial)
	case resp.ContentLength > len(resp.Body):
		t.TxLog.Note(t.ID, "Getting remaining body data")
		t.fillRemaining(conn, resp)
		t.Client.Write(resp.Bytes())
	default:
		t.Client.Write(resp.Bytes())
	}

	t.TxLog.Received(t.ID, resp.StatusLine(), req.Host)
	t.TxLog.Responding(t.ID, resp.StatusLine())
}
