// Package email delivers drip emails through Resend and creates Gmail drafts for dry runs.
package email

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is a plain-text email to a single recipient.
type Message struct {
	To      string
	Subject string
	Body    string
	// ScheduledAt defers delivery when non-zero. Ignored by drafters.
	ScheduledAt time.Time
}

// Sender delivers a message and returns the provider's email id.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Drafter stores a message as a draft and returns the draft id.
type Drafter interface {
	CreateDraft(ctx context.Context, msg *Message) (string, error)
}

// buildRFC822 renders msg as a raw RFC 822 message.
func buildRFC822(from string, msg *Message) []byte {
	lines := []string{
		fmt.Sprintf("From: %s", sanitizeHeader(from)),
		fmt.Sprintf("To: %s", sanitizeHeader(msg.To)),
		fmt.Sprintf("Subject: %s", sanitizeHeader(msg.Subject)),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		msg.Body,
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
