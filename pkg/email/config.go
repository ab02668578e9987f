package email

// Config holds email service configuration. Without a Postmark server token
// notices are written to the log instead of being sent.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@example.com"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@example.com"`
}

// Enabled reports whether real delivery is configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != ""
}
