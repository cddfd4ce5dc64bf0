package rpc

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joshp123/robofleet/internal/backend"
	"github.com/joshp123/robofleet/internal/fleet"
	"github.com/joshp123/robofleet/internal/notify"
	"github.com/joshp123/robofleet/internal/rate"
	"github.com/joshp123/robofleet/internal/realtime"
)

// mapError converts domain and backend errors into gRPC status errors.
func mapError(action string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var limitErr *rate.LimitError
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, fleet.ErrNoRobotSelected):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", action, err)
	case errors.Is(err, fleet.ErrSelectionSuperseded):
		return status.Errorf(codes.Aborted, "%s: %v", action, err)
	case errors.Is(err, fleet.ErrUnknownCommand):
		return status.Errorf(codes.InvalidArgument, "%s: %v", action, err)
	case errors.Is(err, realtime.ErrPermissionDenied):
		return status.Errorf(codes.PermissionDenied, "%s: %v", action, err)
	case errors.Is(err, backend.ErrUnauthorized):
		return status.Errorf(codes.Unauthenticated, "%s: %v", action, err)
	case errors.Is(err, backend.ErrNotFound),
		errors.Is(err, notify.ErrNotFound),
		errors.Is(err, notify.ErrRequestNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", action, err)
	case errors.As(err, &limitErr):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", action, err)
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusForbidden:
			return status.Errorf(codes.PermissionDenied, "%s: %v", action, err)
		case apiErr.Status == http.StatusConflict:
			return status.Errorf(codes.FailedPrecondition, "%s: %v", action, err)
		case apiErr.Status >= 400 && apiErr.Status < 500:
			return status.Errorf(codes.InvalidArgument, "%s: %v", action, err)
		default:
			return status.Errorf(codes.Unavailable, "%s: %v", action, err)
		}
	default:
		return status.Errorf(codes.Internal, "%s: %v", action, err)
	}
}
