package remote

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"thingsync/pkg/txn"
)

var (
	// ErrRejected matches every RejectedError.
	ErrRejected = errors.New("remote: batch rejected")
	// ErrNotFound is returned when a fetch names an unknown root.
	ErrNotFound = errors.New("remote: not found")
	// ErrNotConnected is returned by the loopback before Connect or after Close.
	ErrNotConnected = errors.New("remote: not connected")
	// ErrSevered is returned by a loopback whose link was cut.
	ErrSevered = errors.New("remote: link severed")
)

// RejectedError reports a structurally invalid operation. The whole batch
// is discarded.
type RejectedError struct {
	Index  int
	Op     txn.OpKind
	ID     uuid.UUID
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("remote: batch rejected: %s", e.Reason)
	}
	return fmt.Sprintf("remote: operation %d (%s %s) rejected: %s", e.Index, e.Op, e.ID, e.Reason)
}

// Is lets errors.Is(err, ErrRejected) match any RejectedError.
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

func reject(index int, op txn.OpKind, id uuid.UUID, format string, args ...any) error {
	return &RejectedError{Index: index, Op: op, ID: id, Reason: fmt.Sprintf(format, args...)}
}

func rejectBatch(format string, args ...any) error {
	return &RejectedError{Index: -1, Reason: fmt.Sprintf(format, args...)}
}
