package control

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/sensor-simulator/manager"
)

// ErrInvalidRequest marks a malformed control request.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps manager errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, manager.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, manager.ErrDuplicateName):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, manager.ErrInvalidName),
		errors.Is(err, manager.ErrPluginLoad):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, manager.ErrNotInitialized),
		errors.Is(err, manager.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
