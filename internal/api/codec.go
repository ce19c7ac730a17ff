package api

import (
	"encoding/json"
	"errors"

	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/signal"
	"github.com/matheus3301/nearby/internal/social"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages travel as google.protobuf.Struct; the Go types above are their
// JSON shape.

// Encode converts v to its wire form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Decode fills v from its wire form.
func Decode(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// toStatus maps domain and backend errors to gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, social.ErrNotFound), backend.Is(err, backend.CodeNotFound):
		code = codes.NotFound
	case errors.Is(err, social.ErrNotRecipient), errors.Is(err, social.ErrNotParticipant),
		errors.Is(err, signal.ErrPermissionDenied), backend.Is(err, backend.CodePermissionDenied):
		code = codes.PermissionDenied
	case errors.Is(err, social.ErrInvalidArgument), backend.Is(err, backend.CodeValidation):
		code = codes.InvalidArgument
	case errors.Is(err, social.ErrExists):
		code = codes.AlreadyExists
	case errors.Is(err, social.ErrLimitReached):
		code = codes.ResourceExhausted
	case errors.Is(err, social.ErrInvalidTransition), backend.Is(err, backend.CodeConflict):
		code = codes.FailedPrecondition
	case isBackendError(err) && backend.IsRetryable(err):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return grpcstatus.Error(code, err.Error())
}

func isBackendError(err error) bool {
	var e *backend.Error
	return errors.As(err, &e)
}
