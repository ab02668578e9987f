package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
)

func (s *server) usageStatus(ctx handler.Context) handler.Response {
	st, err := s.usage.Status(ctx, currentUser(ctx).ID)
	if err != nil {
		return fail(err, "Failed to fetch usage status")
	}
	return handler.JSON(usageStatusResponse{
		CurrentUsage:       st.CurrentUsage,
		Limits:             st.Limits,
		RemainingUsage:     st.Remaining,
		SubscriptionStatus: st.SubscriptionStatus,
		ResetDate:          st.ResetDate,
	})
}

type trackUsageRequest struct {
	Action   string         `json:"action" label:"Action" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

func (s *server) trackUsage(ctx handler.Context, req trackUsageRequest) handler.Response {
	res, err := s.usage.Track(ctx, currentUser(ctx).ID, req.Action, req.Metadata)
	if errors.Is(err, usage.ErrLimitExceeded) {
		return handler.Error(handler.NewHTTPError(http.StatusTooManyRequests, "Usage limit exceeded").
			WithDetails(map[string]any{
				"exceeded":       true,
				"remainingUsage": res.Remaining,
				"action":         res.Action,
			}))
	}
	if err != nil {
		return fail(err, "Failed to track usage")
	}

	return handler.JSON(map[string]any{
		"success":        true,
		"remainingUsage": res.Remaining,
	})
}
