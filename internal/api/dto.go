package api

import (
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

type planResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Price      int64    `json:"price"`
	Currency   string   `json:"currency"`
	Interval   string   `json:"interval"`
	Features   []string `json:"features"`
	UsageLimit int64    `json:"usageLimit"`
	IsActive   bool     `json:"isActive"`
	PriceID    string   `json:"priceId"`
}

func toPlanResponse(p *subscription.Plan) *planResponse {
	if p == nil {
		return nil
	}
	return &planResponse{
		ID:         p.ID.String(),
		Name:       p.Name,
		Price:      p.Price,
		Currency:   p.Currency,
		Interval:   string(p.Interval),
		Features:   p.FeatureList(),
		UsageLimit: p.UsageLimit,
		IsActive:   p.Active,
		PriceID:    p.PriceID,
	}
}

type subscriptionResponse struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"`
	PriceID            string    `json:"priceId"`
	CancelAtPeriodEnd  bool      `json:"cancelAtPeriodEnd"`
	CurrentPeriodStart time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd"`
	HasBillingAccount  bool      `json:"hasBillingAccount"`
}

func toSubscriptionResponse(s *subscription.Subscription) *subscriptionResponse {
	if s == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:                 s.ID.String(),
		Status:             string(s.Status),
		PriceID:            s.PriceID,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		HasBillingAccount:  s.ProviderCustomerID != "",
	}
}

type infoResponse struct {
	Subscription  *subscriptionResponse `json:"subscription"`
	Plan          *planResponse         `json:"plan"`
	PlanType      string                `json:"planType"`
	IsPaid        bool                  `json:"isPaid"`
	HasAccess     bool                  `json:"hasAccess"`
	InGraceWindow bool                  `json:"inGraceWindow"`
}

type usageStatusResponse struct {
	CurrentUsage       int64            `json:"currentUsage"`
	Limits             map[string]int64 `json:"limits"`
	RemainingUsage     map[string]int64 `json:"remainingUsage"`
	SubscriptionStatus string           `json:"subscriptionStatus"`
	ResetDate          time.Time        `json:"resetDate"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
