package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"thingsync/pkg/thing"
	"thingsync/pkg/transport"
	"thingsync/pkg/txn"
)

// Loopback is a transport.Transport that reaches a Server in process. Every
// request and response crosses a JSON encoding so the two sides never share
// memory.
type Loopback struct {
	server *Server

	mu        sync.Mutex
	connected bool
	severed   bool
	calls     map[string]int
}

var _ transport.Transport = (*Loopback)(nil)

// NewLoopback returns a disconnected loopback to server.
func NewLoopback(server *Server) *Loopback {
	return &Loopback{server: server, calls: make(map[string]int)}
}

// Sever cuts the link. Every later call fails fatally.
func (l *Loopback) Sever() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.severed = true
}

// Calls returns how many times op was attempted.
func (l *Loopback) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

func (l *Loopback) begin(ctx context.Context, op string, needConnected bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[op]++
	if l.severed {
		return transport.FailFatal(op, ErrSevered)
	}
	if err := ctx.Err(); err != nil {
		return transport.Fail(op, err)
	}
	if needConnected && !l.connected {
		return transport.Fail(op, ErrNotConnected)
	}
	return nil
}

// Connect opens the link and describes the catalog.
func (l *Loopback) Connect(ctx context.Context) (transport.CatalogInfo, error) {
	if err := l.begin(ctx, "connect", false); err != nil {
		return transport.CatalogInfo{}, err
	}
	info, err := l.server.Info(ctx)
	if err != nil {
		return transport.CatalogInfo{}, transport.Fail("connect", err)
	}
	var out transport.CatalogInfo
	if err := roundTrip(info, &out); err != nil {
		return transport.CatalogInfo{}, transport.Fail("connect", err)
	}
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return out, nil
}

// Fetch encodes req, runs it against the server and decodes the graph.
func (l *Loopback) Fetch(ctx context.Context, req transport.FetchRequest) (thing.Graph, error) {
	if err := l.begin(ctx, "fetch", true); err != nil {
		return thing.Graph{}, err
	}
	var wire transport.FetchRequest
	if err := roundTrip(req, &wire); err != nil {
		return thing.Graph{}, transport.Fail("fetch", err)
	}
	g, err := l.server.Fetch(ctx, wire)
	if err != nil {
		return thing.Graph{}, transport.Fail("fetch", err)
	}
	return decodeGraph("fetch", g)
}

// Submit sends the batch. A stale base revision is reported as
// transport.ErrConflict, every other failure as a transport failure.
func (l *Loopback) Submit(ctx context.Context, batch *txn.Batch) (thing.Graph, error) {
	if err := l.begin(ctx, "submit", true); err != nil {
		return thing.Graph{}, err
	}
	var wire SubmitRequest
	if err := roundTrip(NewSubmitRequest(batch), &wire); err != nil {
		return thing.Graph{}, transport.Fail("submit", err)
	}
	g, err := l.server.Apply(ctx, wire)
	if err != nil {
		if errors.Is(err, transport.ErrConflict) {
			return thing.Graph{}, err
		}
		return thing.Graph{}, transport.Fail("submit", err)
	}
	return decodeGraph("submit", g)
}

// Close drops the link. Connect may open it again.
func (l *Loopback) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["close"]++
	l.connected = false
	return nil
}

func decodeGraph(op string, g thing.Graph) (thing.Graph, error) {
	var out thing.Graph
	if err := roundTrip(g, &out); err != nil {
		return thing.Graph{}, transport.Fail(op, err)
	}
	return out, nil
}

func roundTrip(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %T: %w", in, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}
