// Package handler provides type-safe HTTP request handling for the billing API.
//
// Handlers are generic functions that receive a bound, validated request
// value and return a Response:
//
//	type checkoutRequest struct {
//		PriceID    string `json:"priceId" label:"Price ID" validate:"required"`
//		SuccessURL string `json:"successUrl" validate:"omitempty,url"`
//	}
//
//	func checkout(ctx handler.Context, req checkoutRequest) handler.Response {
//		link, err := svc.Checkout(ctx, user, opts)
//		if err != nil {
//			return handler.Error(err)
//		}
//		return handler.JSON(map[string]string{"url": link.URL})
//	}
//
//	r.Post("/checkout", handler.Wrap(checkout,
//		handler.WithBinders(handler.BindJSON()),
//		handler.WithErrorHandler(handler.NewErrorHandler(log)),
//	))
//
// # Errors
//
// Every error body is flat: {"error": "<message>"} plus the Details of an
// HTTPError. ValidationError renders as 400 with the per-field messages
// under "fields". Any other error renders as a generic 500.
//
// # Streaming
//
// SSE returns a Response that holds the connection open and sends JSON
// "data:" frames through Stream.Send.
package handler
