package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeValidation, "invalid input"),
			want: "VALIDATION_ERROR: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is() should find the wrapped error")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"platform", PlatformError("query failed", nil), true},
		{"unavailable", ServiceUnavailableError("qdrant"), true},
		{"timeout", TimeoutError("search"), true},
		{"wrapped platform", fmt.Errorf("v1: %w", PlatformError("boom", nil)), true},
		{"not found", NotFoundError("template"), false},
		{"configuration", ConfigurationError("bad metric", nil), false},
		{"plain", errors.New("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeChecks(t *testing.T) {
	wrapped := fmt.Errorf("resolving: %w", NotFoundError("template q.json"))
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound() should see through fmt wrapping")
	}
	if IsValidation(wrapped) {
		t.Error("IsValidation() should be false for a not found error")
	}
	if !IsValidation(ValidationError("x")) {
		t.Error("IsValidation() should be true for a validation error")
	}
	if !IsConfiguration(ConfigurationError("unknown metric", nil)) {
		t.Error("IsConfiguration() should be true for a configuration error")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf() should be empty for a plain error")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("template")
	if err.Message != "template not found" {
		t.Errorf("Message = %q, want %q", err.Message, "template not found")
	}
}

func TestTimeoutError(t *testing.T) {
	if got := TimeoutError("").Message; got != "operation timed out" {
		t.Errorf("Message = %q, want %q", got, "operation timed out")
	}
	if got := TimeoutError("shutdown").Message; got != "shutdown timed out" {
		t.Errorf("Message = %q, want %q", got, "shutdown timed out")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(CodePlatform, "failed").WithDetail("version", "v1")
	if err.Details["version"] != "v1" {
		t.Errorf("Details[version] = %q, want %q", err.Details["version"], "v1")
	}
}
