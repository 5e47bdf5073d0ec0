package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := Newf(KindValidation, "silenceThreshold must be between %d and %d", -60, -10).
		WithMetadata("parameter", "silenceThreshold")

	msg := err.Error()
	if !strings.HasPrefix(msg, "[VALIDATION_FAILURE]") {
		t.Errorf("Error() = %q, want VALIDATION_FAILURE prefix", msg)
	}
	if !strings.Contains(msg, "parameter:silenceThreshold") {
		t.Errorf("Error() = %q, want metadata", msg)
	}
}

func TestKindOfWrapped(t *testing.T) {
	cause := stderrors.New("exit status 1")
	appErr := Wrap(cause, KindInvocation, "engine call failed")
	wrapped := fmt.Errorf("chunk 3: %w", appErr)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", appErr, KindInvocation},
		{"fmt wrapped", wrapped, KindInvocation},
		{"plain error", cause, KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}

	if !stderrors.Is(wrapped, cause) {
		t.Error("cause should be reachable through errors.Is")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(KindInvocation, "timeout")) {
		t.Error("invocation failures should be retryable")
	}
	if IsRetryable(New(KindValidation, "bad value")) {
		t.Error("validation failures should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestKindString(t *testing.T) {
	if got := Kind(99).String(); got != "UNKNOWN" {
		t.Errorf("String() = %q, want UNKNOWN", got)
	}
	if got := KindResourceCleanup.String(); got != "RESOURCE_CLEANUP_FAILURE" {
		t.Errorf("String() = %q", got)
	}
}
