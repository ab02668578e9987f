package handler

import (
	"errors"
	"net/http"
)

// HandlerFunc handles one request whose body has already been bound into R.
type HandlerFunc[R any] func(ctx Context, req R) Response

// Response renders itself to an http.ResponseWriter. A returned error is
// passed to the ErrorHandler configured on Wrap.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind parses a request into v.
type Bind func(r *http.Request, v any) error

// ErrorHandler reports binding and rendering failures.
type ErrorHandler func(ctx Context, err error)

// Decorator wraps a HandlerFunc.
type Decorator[R any] func(HandlerFunc[R]) HandlerFunc[R]

// Chain applies decorators to h, the first one ending up outermost.
func Chain[R any](h HandlerFunc[R], decorators ...Decorator[R]) HandlerFunc[R] {
	for i := len(decorators) - 1; i >= 0; i-- {
		h = decorators[i](h)
	}
	return h
}

// Option configures Wrap.
type Option func(*wrapOptions)

type wrapOptions struct {
	binders []Bind
	onError ErrorHandler
}

// WithBinders appends request binders. They run in order and a binder
// returning ErrBinderNotApplicable is skipped.
func WithBinders(binders ...Bind) Option {
	return func(o *wrapOptions) {
		o.binders = append(o.binders, binders...)
	}
}

// WithErrorHandler replaces the default error handler, which renders the
// error without logging it.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *wrapOptions) {
		if h != nil {
			o.onError = h
		}
	}
}

func renderError(ctx Context, err error) {
	if errors.Is(err, ErrStreamAborted) {
		return
	}
	_ = JSONError(err).Render(ctx.ResponseWriter(), ctx.Request())
}

// Wrap adapts h to net/http.
//
//	r.Post("/usage", handler.Wrap(trackUsage,
//		handler.WithBinders(handler.BindJSON()),
//		handler.WithErrorHandler(handler.NewErrorHandler(log)),
//	))
func Wrap[R any](h HandlerFunc[R], opts ...Option) http.HandlerFunc {
	o := wrapOptions{onError: renderError}
	for _, opt := range opts {
		opt(&o)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(w, r)

		var req R
		for _, bind := range o.binders {
			err := bind(r, &req)
			if errors.Is(err, ErrBinderNotApplicable) {
				continue
			}
			if err != nil {
				o.onError(ctx, err)
				return
			}
		}

		resp := h(ctx, req)
		if resp == nil {
			o.onError(ctx, ErrNilResponse)
			return
		}
		if err := resp.Render(w, r); err != nil {
			o.onError(ctx, err)
		}
	}
}
