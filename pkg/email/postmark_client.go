package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkSender delivers email through Postmark's transactional API.
type PostmarkSender struct {
	api     *postmark.Client
	from    string
	replyTo string
}

// NewPostmarkClient validates cfg and returns a Postmark sender. Replies to
// every message go to the support address.
func NewPostmarkClient(cfg Config) (*PostmarkSender, error) {
	switch {
	case cfg.PostmarkServerToken == "":
		return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is empty", ErrInvalidConfig)
	case !validAddress(cfg.SenderEmail):
		return nil, fmt.Errorf("%w: sender %q", ErrInvalidConfig, cfg.SenderEmail)
	case !validAddress(cfg.SupportEmail):
		return nil, fmt.Errorf("%w: support address %q", ErrInvalidConfig, cfg.SupportEmail)
	}

	return &PostmarkSender{
		api:     postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.SenderEmail,
		replyTo: cfg.SupportEmail,
	}, nil
}

func (s *PostmarkSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	res, err := s.api.SendEmail(ctx, postmark.Email{
		From:     s.from,
		ReplyTo:  s.replyTo,
		To:       params.SendTo,
		Subject:  params.Subject,
		Tag:      params.Tag,
		HTMLBody: params.BodyHTML,
	})
	switch {
	case err != nil:
		return errors.Join(ErrFailedToSendEmail, err)
	case res.ErrorCode != 0:
		return fmt.Errorf("%w: postmark code %d: %s", ErrFailedToSendEmail, res.ErrorCode, res.Message)
	}
	return nil
}
