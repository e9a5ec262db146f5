package clusterserver

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// rpcInterceptors wraps every cluster procedure. The first interceptor is
// the outermost, so a recovered panic is also logged as a failed call.
func rpcInterceptors(l logger.Logger) []connect.Interceptor {
	return []connect.Interceptor{
		logInterceptor(l),
		recoverInterceptor(l),
	}
}

// recoverInterceptor turns a handler panic into CodeInternal so one bad
// forwarded request cannot take the node down.
func recoverInterceptor(l logger.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					l.Error("cluster rpc panic recovered",
						"procedure", req.Spec().Procedure,
						"peer", req.Peer().Addr,
						"panic", r)
					resp = nil
					err = connect.NewError(connect.CodeInternal, errors.New("internal error"))
				}
			}()
			return next(ctx, req)
		}
	}
}

// logInterceptor logs handled procedures. Failures are warnings; a
// follower retrying a forward is routine, so successes log at debug.
func logInterceptor(l logger.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []any{
				"procedure", req.Spec().Procedure,
				"peer", req.Peer().Addr,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				l.Warn("cluster rpc failed", append(attrs, "code", connect.CodeOf(err).String(), "error", err)...)
			} else {
				l.Debug("cluster rpc", attrs...)
			}
			return resp, err
		}
	}
}
