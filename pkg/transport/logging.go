package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/localresp/pkg/api"
)

// Logging writes one entry per create call. Rejected requests log at warn,
// cancellations at info, everything else that fails at error.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ResponseCreator) ResponseCreator {
		return ResponseCreatorFunc(func(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) error {
			start := time.Now()
			err := next.CreateResponse(ctx, req, w)

			level, msg := outcome(err)
			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("model", req.Model),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			if api.KindOf(err) == api.KindStreamAborted {
				attrs = append(attrs, slog.String("cause", cancelCause(ctx)))
			}
			logger.LogAttrs(ctx, level, msg, attrs...)
			return err
		})
	}
}

func outcome(err error) (slog.Level, string) {
	if err == nil {
		return slog.LevelInfo, "request completed"
	}
	switch api.KindOf(err) {
	case api.KindStreamAborted:
		return slog.LevelInfo, "request cancelled"
	case api.KindValidation, api.KindNotFound, api.KindRateLimited:
		return slog.LevelWarn, "request rejected"
	}
	return slog.LevelError, "request failed"
}

func cancelCause(ctx context.Context) string {
	if CancelRequested(ctx) {
		return "cancel_requested"
	}
	return "client_disconnected"
}
