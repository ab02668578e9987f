package handler

import (
	"context"
	"net/http"
)

// Context is the request context handed to handlers. It carries the request
// and its response writer next to the usual context.Context behavior.
type Context interface {
	context.Context
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
}

type requestContext struct {
	context.Context
	w http.ResponseWriter
	r *http.Request
}

// NewContext binds w and r. Deadlines, cancellation and values come from
// r.Context().
func NewContext(w http.ResponseWriter, r *http.Request) Context {
	return &requestContext{Context: r.Context(), w: w, r: r}
}

func (c *requestContext) Request() *http.Request              { return c.r }
func (c *requestContext) ResponseWriter() http.ResponseWriter { return c.w }

// ContextKey is a collision-free context key. Declare keys once at package
// level.
type ContextKey struct{ name string }

func (k *ContextKey) String() string { return k.name }

// NewContextKey returns a new key labelled name.
func NewContextKey(name string) *ContextKey {
	return &ContextKey{name: name}
}

// ContextValue returns the value under key as T, or the zero T.
//
//	user := handler.ContextValue[*subscription.User](ctx, userKey)
func ContextValue[T any](ctx context.Context, key any) T {
	v, _ := ContextValueOK[T](ctx, key)
	return v
}

// ContextValueOK is ContextValue that also reports whether a T was found.
func ContextValueOK[T any](ctx context.Context, key any) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}
