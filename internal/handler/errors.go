// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/neurotone-service/internal/predictor"
)

// grpcError maps prediction failures to gRPC status errors by category
func grpcError(err error) error {
	if err == nil {
		return nil
	}

	switch predictor.CategoryOf(err) {
	case predictor.CategoryNotReady:
		return status.Error(codes.Unavailable, predictor.ErrNotReady.Error())

	case predictor.CategoryBadInput:
		return status.Errorf(codes.InvalidArgument, "invalid audio: %v", unwrapPredictorError(err))

	default:
		return status.Error(codes.Internal, "internal error during model inference")
	}
}

// httpStatus maps a category to an HTTP status code
func httpStatus(c predictor.Category) int {
	switch c {
	case predictor.CategoryNotReady:
		return http.StatusServiceUnavailable
	case predictor.CategoryBadInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the client facing text for err. Internal details stay
// in the logs.
func publicMessage(err error) string {
	switch predictor.CategoryOf(err) {
	case predictor.CategoryNotReady:
		return predictor.ErrNotReady.Error()
	case predictor.CategoryBadInput:
		return unwrapPredictorError(err).Error()
	default:
		return "internal server error during model inference"
	}
}

func unwrapPredictorError(err error) error {
	var pe *predictor.Error
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err
	}
	return err
}

// invalidArgumentError creates an InvalidArgument gRPC error
func invalidArgumentError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// unavailableError creates an Unavailable gRPC error
func unavailableError(format string, args ...interface{}) error {
	return status.Errorf(codes.Unavailable, format, args...)
}
