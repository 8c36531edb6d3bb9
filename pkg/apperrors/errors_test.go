package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	err := Conflict("user already exists")
	if CodeOf(err) != CodeConflict {
		t.Fatalf("expected conflict code, got %s", CodeOf(err))
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if CodeOf(wrapped) != CodeConflict {
		t.Fatalf("expected code through wrap chain, got %s", CodeOf(wrapped))
	}

	if CodeOf(errors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should report unknown")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := Wrap(CodeInternal, "failed to login", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("wrapped cause should survive errors.Is")
	}
	if MessageOf(err, "fallback") != "failed to login" {
		t.Fatalf("unexpected message: %s", MessageOf(err, "fallback"))
	}
}

func TestMessageOf_Fallback(t *testing.T) {
	t.Parallel()

	if MessageOf(errors.New("raw database error"), "something went wrong") != "something went wrong" {
		t.Fatalf("non-app errors must fall back to a safe message")
	}
}
