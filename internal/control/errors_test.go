package control

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/sensor-simulator/manager"
)

func TestToStatusError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", fmt.Errorf("lookup: %w", manager.ErrNotFound), codes.NotFound},
		{"duplicate", fmt.Errorf("%w: \"cam1\"", manager.ErrDuplicateName), codes.AlreadyExists},
		{"bad request", fmt.Errorf("%w: id required", ErrInvalidRequest), codes.InvalidArgument},
		{"plugin", fmt.Errorf("%w: unknown", manager.ErrPluginLoad), codes.InvalidArgument},
		{"not initialized", manager.ErrNotInitialized, codes.FailedPrecondition},
		{"state", manager.ErrInvalidState, codes.FailedPrecondition},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"other", errors.New("boom"), codes.Internal},
		{"already status", status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(ToStatusError(tt.err)); got != tt.want {
				t.Fatalf("code = %v, want %v", got, tt.want)
			}
		})
	}
	if ToStatusError(nil) != nil {
		t.Fatalf("nil error mapped to non-nil")
	}
}
