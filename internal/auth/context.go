package auth

import (
	"context"

	"gitea.jw6.us/james/washcal/internal/schedule"
)

type contextKey string

const contextKeyCaller contextKey = "caller"

// WithCaller stores the identity asserted for this request.
func WithCaller(ctx context.Context, caller schedule.Caller) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// CallerFromContext returns the identity stored by WithCaller.
func CallerFromContext(ctx context.Context) (schedule.Caller, bool) {
	c, ok := ctx.Value(contextKeyCaller).(schedule.Caller)
	return c, ok
}

// Context implements schedule.AuthContext on top of request contexts.
type Context struct{}

func (Context) Caller(ctx context.Context) (schedule.Caller, bool) {
	return CallerFromContext(ctx)
}
