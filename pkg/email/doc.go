// Package email sends transactional billing notices.
//
// EmailSender abstracts delivery: NewPostmarkClient sends through Postmark,
// NewLogSender only logs and is used when no Postmark token is configured.
// BillingNotifier renders the payment-failed and subscription-ended notices
// and satisfies subscription.Notifier.
//
//	sender, err := email.NewPostmarkClient(cfg)
//	if err != nil {
//		return err
//	}
//	notifier := email.NewBillingNotifier(sender, appCfg.URL)
package email
