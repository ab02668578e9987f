package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// Entry is one metered action.
type Entry struct {
	ID        string
	UserID    uuid.UUID
	Action    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Quota is the limit in force for a subscription and the instant usage is
// counted from. Limit is subscription.Unlimited for uncapped plans.
type Quota struct {
	Limit int64
	Since time.Time
}

// PlanLookup resolves a plan inside the store's transaction.
type PlanLookup func(ctx context.Context, priceID string) (*subscription.Plan, error)

// QuotaFunc resolves the quota for a locked subscription row.
type QuotaFunc func(ctx context.Context, sub *subscription.Subscription, plans PlanLookup) (Quota, error)

// Outcome reports what RecordWithinQuota did. Used includes the new entry
// when Recorded is true.
type Outcome struct {
	Used     int64
	Quota    Quota
	Recorded bool
}

// Store persists usage entries.
type Store interface {
	// RecordWithinQuota locks the user's subscription row, provisioning a
	// free one when missing, resolves the quota, counts entries for
	// entry.Action since Quota.Since and appends entry only while the count
	// is below the limit. All of it happens atomically.
	RecordWithinQuota(ctx context.Context, entry Entry, quota QuotaFunc) (Outcome, error)
	// CountByAction returns per-action entry counts since the given instant.
	CountByAction(ctx context.Context, userID uuid.UUID, since time.Time) (map[string]int64, error)
	// InsertUsage appends entries without any limit check.
	InsertUsage(ctx context.Context, entries []Entry) error
	// DeleteUsage removes all of the user's entries and returns how many.
	DeleteUsage(ctx context.Context, userID uuid.UUID) (int64, error)
}

// SubscriptionSource reads the user's subscription.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error)
}

// PlanSource resolves plans by price id.
type PlanSource interface {
	GetPlanByPriceID(ctx context.Context, priceID string) (*subscription.Plan, error)
}
