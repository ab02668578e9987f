package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
)

// statusOf maps an error to the status code JSONError would use.
func statusOf(err error) int {
	status, _ := errorBody(err)
	return status
}

// determineLogLevel maps HTTP status codes to appropriate log levels
func determineLogLevel(statusCode int) slog.Level {
	if statusCode < http.StatusInternalServerError {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// NewErrorHandler creates the error handler shared by every route. It logs
// the failure with the request id and renders a JSON error body. Failures of
// a running event stream are only logged.
func NewErrorHandler(log *slog.Logger) ErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("error_handler"))

	return func(ctx Context, err error) {
		r := ctx.Request()
		status := statusOf(err)
		if errors.Is(err, ErrStreamAborted) {
			status = http.StatusOK
		}

		log.LogAttrs(r.Context(), determineLogLevel(status), "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			logger.StatusCode(status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		if errors.Is(err, ErrStreamAborted) {
			return
		}
		if renderErr := JSONError(err).Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}
