package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFailureErrorMatching(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("fetch model: %w", Fail("fetch", cause))
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure match")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be reachable")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("failure must not match conflict")
	}
	if IsFatal(err) {
		t.Fatalf("non-fatal failure reported fatal")
	}
	if !IsFatal(FailFatal("connect", errors.New("reset"))) {
		t.Fatalf("fatal failure not reported")
	}
	var fe *FailureError
	if !errors.As(err, &fe) || fe.Op != "fetch" {
		t.Fatalf("expected FailureError for op fetch, got %v", fe)
	}
}

func TestFailureErrorMessage(t *testing.T) {
	got := FailFatal("submit", errors.New("closed")).Error()
	if got != "transport: submit failed (fatal): closed" {
		t.Fatalf("unexpected message %q", got)
	}
}
