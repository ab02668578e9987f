package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/jobs"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

type triggerJobRequest struct {
	JobType   string         `json:"job_type"`
	InputData map[string]any `json:"input_data"`
}

func (s *server) triggerJob(ctx handler.Context, req triggerJobRequest) handler.Response {
	user := currentUser(ctx)
	token := jwt.TokenFromContext(ctx)

	s.jobs.EnsureBackendUser(ctx, token, jobs.BackendUser{
		ClerkID: user.AuthUserID,
		Email:   user.Email,
		Name:    user.Name,
	})

	data, err := s.jobs.Trigger(ctx, token, req.JobType, req.InputData)
	var backendErr *jobs.BackendError
	if errors.As(err, &backendErr) {
		return handler.Error(handler.NewHTTPError(backendErr.Status, "Backend request failed").
			WithDetails(map[string]any{
				"status":  backendErr.Status,
				"message": backendErr.Message,
			}))
	}
	if err != nil {
		return handler.Error(errors.Join(
			handler.NewHTTPError(http.StatusInternalServerError, "Internal server error").
				WithDetails(map[string]any{"message": "Failed to reach job backend"}),
			err,
		))
	}

	return handler.JSON(struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{Success: true, Data: data})
}

func (s *server) statusStream(ctx handler.Context) handler.Response {
	sessionID := ctx.Request().URL.Query().Get("session_id")
	if sessionID == "" {
		return handler.Error(handler.NewHTTPError(http.StatusBadRequest, "Missing session_id"))
	}

	user := currentUser(ctx)
	token := jwt.TokenFromContext(ctx)

	return handler.SSE(func(stream handler.Stream) error {
		s.log.DebugContext(stream, "job status stream opened",
			logger.UserID(user.AuthUserID), logger.SessionID(sessionID))

		err := s.jobs.Relay(stream, user.AuthUserID, token, sessionID, stream)
		if errors.Is(err, jobs.ErrBackendUnavailable) {
			// The browser reconnects on its own once the stream closes.
			return nil
		}
		return err
	})
}
