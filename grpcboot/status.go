// Package grpcboot exposes the application lifecycle to gRPC servers.
package grpcboot

import (
	"fmt"

	"github.com/nielskrijger/appboot"
	"github.com/nielskrijger/appboot/props"
	"github.com/nielskrijger/appboot/singleton"
	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is set on the ErrorInfo details of translated errors.
const Domain = "appboot"

var InternalError = status.Error(codes.Internal, "something went wrong, please try again later")

type mapping struct {
	target error
	code   codes.Code
	reason string
}

// checked in order; the first matching target wins
var mappings = []mapping{
	{appboot.ErrNotRunning, codes.Unavailable, "NOT_RUNNING"},
	{appboot.ErrAlreadyRunning, codes.FailedPrecondition, "ALREADY_RUNNING"},
	{appboot.ErrCircularReference, codes.FailedPrecondition, "CIRCULAR_REFERENCE"},
	{appboot.ErrNotFound, codes.NotFound, "SERVICE_NOT_FOUND"},
	{appboot.ErrInvalidArgument, codes.InvalidArgument, "INVALID_ARGUMENT"},
	{appboot.ErrInvalidName, codes.InvalidArgument, "INVALID_NAME"},
	{appboot.ErrMissingVersion, codes.InvalidArgument, "MISSING_VERSION"},
	{props.ErrNotFound, codes.FailedPrecondition, "PROPERTY_NOT_FOUND"},
	{props.ErrInvalidKey, codes.InvalidArgument, "INVALID_PROPERTY_KEY"},
	{props.ErrInvalidValue, codes.InvalidArgument, "INVALID_PROPERTY_VALUE"},
	{singleton.ErrConstruction, codes.Internal, "CONSTRUCTION_FAILED"},
}

// Status translates err into a gRPC status error carrying an ErrorInfo
// detail. Errors that already are gRPC status errors are returned as is and
// unknown errors become InternalError.
//
// Returns nil if err is nil.
func Status(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	for _, m := range mappings {
		if !errors.Is(err, m.target) {
			continue
		}

		st, detailErr := status.New(m.code, err.Error()).WithDetails(&errdetails.ErrorInfo{
			Reason:   m.reason,
			Domain:   Domain,
			Metadata: metadata(),
		})
		if detailErr != nil {
			// should never happen, so panic and figure out what happened
			panic(fmt.Sprintf("failed adding error details: %v", detailErr))
		}

		return st.Err()
	}

	return InternalError
}

func metadata() map[string]string {
	app := appboot.Current()
	if app == nil {
		return nil
	}

	return map[string]string{
		"app":     app.Name(),
		"version": app.Version(),
		"run":     app.RunID(),
	}
}
