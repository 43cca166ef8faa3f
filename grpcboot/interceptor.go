package grpcboot

import (
	"context"

	"github.com/nielskrijger/appboot"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type appKey struct{}

// FromContext returns the application that accepted the call.
func FromContext(ctx context.Context) *appboot.Application {
	app, _ := ctx.Value(appKey{}).(*appboot.Application)

	return app
}

// UnaryServerInterceptor rejects calls with Unavailable while no application
// is running. Accepted calls carry the running application in their context
// and handler errors are translated with Status.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		app := appboot.Current()
		if app == nil {
			return nil, status.Errorf(codes.Unavailable, "%s: no application is running", info.FullMethod)
		}

		resp, err := handler(context.WithValue(ctx, appKey{}, app), req)
		if err != nil {
			log := app.Logger()
			log.Debug().Err(err).Str("method", info.FullMethod).Msg("call failed")

			return nil, Status(err)
		}

		return resp, nil
	}
}
