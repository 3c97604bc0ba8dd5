package email

import (
	"context"
	"fmt"
	"time"

	"github.com/resend/resend-go/v2"
)

// ResendSender sends emails through the Resend API.
type ResendSender struct {
	client  *resend.Client
	from    string
	replyTo string
}

// NewResendSender creates a sender for the given API key.
func NewResendSender(apiKey, from, replyTo string) *ResendSender {
	return &ResendSender{
		client:  resend.NewClient(apiKey),
		from:    from,
		replyTo: replyTo,
	}
}

// Send sends msg, scheduling it when msg.ScheduledAt is set.
func (s *ResendSender) Send(ctx context.Context, msg *Message) (string, error) {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
		ReplyTo: s.replyTo,
	}
	if !msg.ScheduledAt.IsZero() {
		params.ScheduledAt = msg.ScheduledAt.UTC().Format(time.RFC3339)
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	if sent == nil || sent.Id == "" {
		return "", fmt.Errorf("failed to send email: empty id in response")
	}

	return sent.Id, nil
}

var _ Sender = (*ResendSender)(nil)
