package httpapi

import (
	"context"
	"errors"
	"net/http"
)

// errServerShutdown is the cancellation cause of in-flight handler work when
// the process base context ends.
var errServerShutdown = errors.New("server shutting down")

// serverBaseCtx ends when the process starts shutting down.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level context whose end cancels in-flight
// session starts and generations. Nil resets it to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// handlerContext derives the context for manager calls from the request. It
// keeps request values and additionally ends, with errServerShutdown as its
// cause, when base does. The returned func must be called when the handler
// returns.
func handlerContext(base context.Context, r *http.Request) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(r.Context())
	stop := context.AfterFunc(base, func() { cancel(errServerShutdown) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// shutdownCause returns errServerShutdown when ctx ended because of it.
func shutdownCause(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), errServerShutdown) {
		return errServerShutdown
	}
	return nil
}
