package transport

import "slices"

// Middleware decorates a ResponseCreator.
type Middleware func(ResponseCreator) ResponseCreator

// Chain composes middleware so that the first argument sees the request
// first: Chain(a, b)(h) is a(b(h)).
func Chain(middlewares ...Middleware) Middleware {
	return func(next ResponseCreator) ResponseCreator {
		for _, mw := range slices.Backward(middlewares) {
			next = mw(next)
		}
		return next
	}
}
