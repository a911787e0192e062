package delivery

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// EmailSender delivers a plain-text email to one recipient.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, text string) error
}

// ResendMailer sends through the Resend API. Every message carries an
// unsubscribe footer and List-Unsubscribe header pointing at the GitHub
// OAuth app settings page, where the user revokes access to opt out.
type ResendMailer struct {
	client    *resend.Client
	from      string
	revokeURL string
}

func NewResendMailer(apiKey, from, githubClientID string) *ResendMailer {
	return &ResendMailer{
		client:    resend.NewClient(apiKey),
		from:      from,
		revokeURL: RevokeURL(githubClientID),
	}
}

// RevokeURL is the page where a user revokes the OAuth app.
func RevokeURL(githubClientID string) string {
	return "https://github.com/settings/connections/applications/" + githubClientID
}

func (r *ResendMailer) SendEmail(ctx context.Context, to, subject, text string) error {
	params := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		Text:    WithUnsubscribeFooter(text, r.revokeURL),
		Headers: map[string]string{
			"List-Unsubscribe": "<" + r.revokeURL + ">",
		},
	}
	if _, err := r.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

func WithUnsubscribeFooter(text, revokeURL string) string {
	return fmt.Sprintf("%s\n\nUnsubscribe by revoking access at %s.", text, revokeURL)
}
