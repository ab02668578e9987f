// Package usage meters per-user actions against the usage limit of the
// user's effective plan.
//
// Tracking is check-and-record in one step: the store locks the user's
// subscription row, counts the action's entries in the current period and
// appends a new entry only while the count is below the limit. Concurrent
// requests for the same user therefore never push usage past the limit.
//
//	res, err := tracker.Track(ctx, userID, "generation", map[string]any{"model": "gpt"})
//	if errors.Is(err, usage.ErrLimitExceeded) {
//		// res.Remaining == 0
//	}
//
// Usage counts restart at the subscription's period start and are cleared
// when the subscription is downgraded or canceled.
package usage
