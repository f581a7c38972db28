package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "eventbus: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "eventbus: logger is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "eventbus: handler function is required"},
		{"ErrTopicRequired", ErrTopicRequired, "eventbus: topic is required"},
		{"ErrClosed", ErrClosed, "eventbus: transport is closed"},
		{"ErrUnknownMode", ErrUnknownMode, "eventbus: unknown transport mode"},
		{"ErrAttemptTimeout", ErrAttemptTimeout, "eventbus: handler attempt timed out"},
		{"ErrHandlerPanic", ErrHandlerPanic, "eventbus: handler panicked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("brokers are required")
	err := ConfigValidationError{Err: inner}

	if !errors.Is(err, inner) {
		t.Fatal("expected validation error to unwrap to the inner error")
	}
	if got := err.Error(); got != "eventbus: invalid configuration: brokers are required" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}

	cause := errors.New("bad input")
	err := Permanent(cause)
	if !IsPermanent(err) {
		t.Fatal("expected wrapped error to be permanent")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected permanent error to unwrap to its cause")
	}
	if err.Error() != "bad input" {
		t.Fatalf("expected cause message to be kept, got %q", err.Error())
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if !IsPermanent(wrapped) {
		t.Fatal("expected permanence to survive wrapping")
	}
	if Permanent(wrapped) != wrapped {
		t.Fatal("expected already permanent error to be returned as is")
	}
	if IsPermanent(cause) {
		t.Fatal("plain errors are not permanent")
	}
}
