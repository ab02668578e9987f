package api

import (
	"fmt"
	"net/http"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
)

// Development-only subscription actions.
const (
	actionResetUsage        = "reset_usage"
	actionSimulateUpgrade   = "simulate_upgrade"
	actionSimulateDowngrade = "simulate_downgrade"
	actionMaxOutUsage       = "max_out_usage"
)

var title = cases.Title(language.English)

type testSubscriptionRequest struct {
	Action   string `json:"action" label:"Action" validate:"required"`
	PlanType string `json:"planType" validate:"omitempty,oneof=pro enterprise"`
}

// testSubscription lets a developer move their own account between plans
// and usage levels without a payment. It is not mounted in production.
func (s *server) testSubscription(ctx handler.Context, req testSubscriptionRequest) handler.Response {
	user := currentUser(ctx)

	switch req.Action {
	case actionResetUsage:
		if _, err := s.usage.Reset(ctx, user.ID); err != nil {
			return fail(err, "Failed to perform test action")
		}
		return handler.JSON(messageResponse{Success: true, Message: "Usage logs cleared for testing"})

	case actionSimulateUpgrade:
		planType := req.PlanType
		if planType == "" {
			planType = "pro"
		}
		plan, err := s.planByLabel(ctx, planType)
		if err != nil {
			return fail(err, "Failed to perform test action")
		}
		if _, err := s.subs.SetPlan(ctx, user.ID, plan.PriceID); err != nil {
			return fail(err, "Failed to perform test action")
		}
		return handler.JSON(messageResponse{
			Success: true,
			Message: "Simulated upgrade to " + title.String(planType),
		})

	case actionSimulateDowngrade:
		if _, err := s.subs.SetPlan(ctx, user.ID, subscription.FreePriceID); err != nil {
			return fail(err, "Failed to perform test action")
		}
		return handler.JSON(messageResponse{Success: true, Message: "Simulated downgrade to Free"})

	case actionMaxOutUsage:
		if _, err := s.usage.Reset(ctx, user.ID); err != nil {
			return fail(err, "Failed to perform test action")
		}
		added, err := s.usage.Fill(ctx, user.ID, usage.DefaultAction, 1)
		if err != nil {
			return fail(err, "Failed to perform test action")
		}
		return handler.JSON(messageResponse{
			Success: true,
			Message: fmt.Sprintf("Set usage to %d (one remaining)", added),
		})
	}

	return handler.Error(handler.NewHTTPError(http.StatusBadRequest, "Invalid test action"))
}

func (s *server) planByLabel(ctx handler.Context, label string) (*subscription.Plan, error) {
	plans, err := s.subs.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].Label() == label && !plans[i].IsFree() {
			return &plans[i], nil
		}
	}
	return nil, subscription.ErrPlanNotFound
}
