package transport

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/observability"
)

// RateLimit returns middleware that admits create requests through a single
// token bucket. A local backend serves one process, so the limit is global
// rather than per client. A non-positive rps disables limiting.
func RateLimit(rps float64, burst int) Middleware {
	if rps <= 0 {
		return func(next ResponseCreator) ResponseCreator { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next ResponseCreator) ResponseCreator {
		return ResponseCreatorFunc(func(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) error {
			if !limiter.Allow() {
				observability.RateLimitRejectedTotal.Inc()
				return api.NewRateLimitError("too many requests, retry later")
			}
			return next.CreateResponse(ctx, req, w)
		})
	}
}
