// Package transport defines the contract a session uses to talk to the
// authoritative remote store.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"thingsync/pkg/thing"
	"thingsync/pkg/txn"
)

// Scope narrows a fetch. SinceRevision > 0 asks for a delta: only records
// changed after that revision plus tombstones. IncludeReferences pulls in the
// records referenced from the subtree.
type Scope struct {
	Domain            uuid.UUID `json:"domain"`
	SinceRevision     int64     `json:"sinceRevision"`
	IncludeReferences bool      `json:"includeReferences"`
}

// FetchRequest asks for the subtree rooted at Root. uuid.Nil fetches the
// catalog.
type FetchRequest struct {
	Root  uuid.UUID `json:"root"`
	Scope Scope     `json:"scope"`
}

// CatalogInfo describes the remote store as returned by Connect.
type CatalogInfo struct {
	Catalog  uuid.UUID `json:"catalog"`
	Revision int64     `json:"revision"`
	Version  string    `json:"version"`
}

// Transport moves serialized graphs between a session and a remote store.
// Implementations must be safe for concurrent Fetch calls.
type Transport interface {
	Connect(ctx context.Context) (CatalogInfo, error)
	Fetch(ctx context.Context, req FetchRequest) (thing.Graph, error)
	// Submit applies the batch atomically. A batch whose base revision is
	// older than the context root's current revision yields ErrConflict.
	Submit(ctx context.Context, batch *txn.Batch) (thing.Graph, error)
	Close(ctx context.Context) error
}

var (
	// ErrConflict is returned when a submitted batch was built against a stale
	// revision of its context root.
	ErrConflict = errors.New("transport: revision conflict")
	// ErrTransportFailure matches every FailureError.
	ErrTransportFailure = errors.New("transport: failure")
)

// FailureError reports a failed round trip. Fatal marks failures after which
// the connection cannot be used again.
type FailureError struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *FailureError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("transport: %s failed (fatal): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s failed: %v", e.Op, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransportFailure) match any FailureError.
func (e *FailureError) Is(target error) bool { return target == ErrTransportFailure }

// Fail wraps err as a non-fatal failure of op.
func Fail(op string, err error) error {
	return &FailureError{Op: op, Err: err}
}

// FailFatal wraps err as a fatal failure of op.
func FailFatal(op string, err error) error {
	return &FailureError{Op: op, Fatal: true, Err: err}
}

// IsFatal reports whether err carries a fatal FailureError.
func IsFatal(err error) bool {
	var fe *FailureError
	return errors.As(err, &fe) && fe.Fatal
}
