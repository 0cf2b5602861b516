package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want string
	}{
		{
			name: "op and underlying error",
			err:  NewTransportError("read body", errors.New("connection reset")),
			want: "read body: connection reset",
		},
		{
			name: "status only",
			err:  NewStatusError("get", 503),
			want: "get: unexpected status 503",
		},
		{
			name: "error only",
			err:  &TransportError{Err: errors.New("boom")},
			want: "boom",
		},
		{
			name: "empty",
			err:  &TransportError{},
			want: "transport error",
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

func TestTransportError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	te := NewTransportError("op", underlying)

	if got := te.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
	if !errors.Is(te, underlying) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestIsTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport error", NewTransportError("op", nil), true},
		{"wrapped transport error", fmt.Errorf("attempt: %w", NewStatusError("get", 500)), true},
		{"regular error", errors.New("regular"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransport(tt.err); got != tt.want {
				t.Errorf("IsTransport() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusCodeOf(t *testing.T) {
	code, ok := StatusCodeOf(fmt.Errorf("wrapped: %w", NewStatusError("get", 502)))
	if !ok || code != 502 {
		t.Errorf("StatusCodeOf() = %d, %v, want 502, true", code, ok)
	}

	if _, ok := StatusCodeOf(NewTransportError("read", errors.New("eof"))); ok {
		t.Error("StatusCodeOf() should report false without a status")
	}
}
