package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/localresp/pkg/api"
)

// Recovery turns a panic in the wrapped creator into a server error. The
// panic value and stack go to logger; the caller only sees the value.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ResponseCreator) ResponseCreator {
		return ResponseCreatorFunc(func(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				logger.LogAttrs(ctx, slog.LevelError, "recovered panic",
					slog.String("request_id", RequestIDFromContext(ctx)),
					slog.String("model", req.Model),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				err = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
			}()
			return next.CreateResponse(ctx, req, w)
		})
	}
}
