package subscription

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Plan is a pricing plan. PriceID is the provider's price identifier and the
// key subscriptions reference.
type Plan struct {
	ID         uuid.UUID
	Name       string
	Price      int64 // minor currency units
	Currency   string
	Interval   BillingInterval
	Features   map[string]any
	UsageLimit int64
	Active     bool
	PriceID    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

var lower = cases.Lower(language.Und)

// IsFree reports whether the plan is the built-in free plan.
func (p Plan) IsFree() bool {
	return p.PriceID == FreePriceID
}

// Label is the lowercase plan name used as the subscription status label
// ("free", "pro", "enterprise").
func (p Plan) Label() string {
	return lower.String(p.Name)
}

// FeatureList renders features as "key: value" strings sorted by key.
func (p Plan) FeatureList() []string {
	keys := make([]string, 0, len(p.Features))
	for k := range p.Features {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s: %v", k, p.Features[k]))
	}
	return out
}

// PeriodEnd returns the end of a billing period starting at start.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	switch p.Interval {
	case IntervalMonthly:
		return start.AddDate(0, 1, 0)
	case IntervalYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.Add(freePeriod)
	}
}

// Remaining returns how many more actions fit under the limit given used.
// It returns Unlimited for unlimited plans and never goes below zero.
func (p Plan) Remaining(used int64) int64 {
	if p.UsageLimit == Unlimited {
		return Unlimited
	}
	return max(p.UsageLimit-used, 0)
}

// sortPlans orders plans by ascending price, then name for ties.
func sortPlans(plans []Plan) {
	slices.SortStableFunc(plans, func(a, b Plan) int {
		if a.Price != b.Price {
			if a.Price < b.Price {
				return -1
			}
			return 1
		}
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
}
