// Package txn stages create, update and delete intents against one context
// root and freezes them into a batch that a session submits in one write.
package txn

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"thingsync/pkg/thing"
)

// OpKind identifies the intent of an operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one frozen intent. Container is set for creates and deletes;
// Key is the position key inside the container when Keyed is true.
type Operation struct {
	Kind      OpKind       `json:"kind"`
	Record    thing.Record `json:"record"`
	Container uuid.UUID    `json:"container"`
	Key       int64        `json:"key"`
	Keyed     bool         `json:"keyed"`
}

// ErrBatchConsumed is returned when a batch is submitted a second time.
var ErrBatchConsumed = errors.New("txn: batch already consumed")

// Batch is an immutable, ordered set of operations scoped to one context
// root. It carries the root revision the operations were derived from.
type Batch struct {
	id           uuid.UUID
	root         uuid.UUID
	baseRevision int64
	ops          []Operation
	consumed     atomic.Bool
}

// ID identifies the batch.
func (b *Batch) ID() uuid.UUID { return b.id }

// ContextRoot returns the id of the top-level Thing the batch is scoped to.
func (b *Batch) ContextRoot() uuid.UUID { return b.root }

// BaseRevision returns the context root revision observed when the batch
// was built.
func (b *Batch) BaseRevision() int64 { return b.baseRevision }

// Len returns the number of operations.
func (b *Batch) Len() int { return len(b.ops) }

// Operations returns a copy of the operations in submission order. The
// records share nothing with the batch.
func (b *Batch) Operations() []Operation {
	out := make([]Operation, len(b.ops))
	for i, op := range b.ops {
		op.Record = op.Record.Clone()
		out[i] = op
	}
	return out
}

// Consume marks the batch as submitted. Only the first call succeeds.
func (b *Batch) Consume() error {
	if !b.consumed.CompareAndSwap(false, true) {
		return ErrBatchConsumed
	}
	return nil
}

// Consumed reports whether the batch has been submitted.
func (b *Batch) Consumed() bool { return b.consumed.Load() }
