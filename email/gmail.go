package email

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailDrafter creates drafts in a Google Workspace mailbox so dry runs can be reviewed by hand.
type GmailDrafter struct {
	service *gmail.Service
	from    string
}

// NewGmailDrafter authenticates with a service account that impersonates mailbox.
func NewGmailDrafter(ctx context.Context, credentialsJSON []byte, mailbox, from string) (*GmailDrafter, error) {
	conf, err := google.JWTConfigFromJSON(credentialsJSON, gmail.GmailComposeScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gmail credentials: %w", err)
	}
	conf.Subject = mailbox

	service, err := gmail.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return NewGmailDrafterWithService(service, from), nil
}

// NewGmailDrafterWithService wraps an existing Gmail service.
func NewGmailDrafterWithService(service *gmail.Service, from string) *GmailDrafter {
	return &GmailDrafter{service: service, from: from}
}

// CreateDraft stores msg as a draft in the impersonated mailbox.
func (d *GmailDrafter) CreateDraft(ctx context.Context, msg *Message) (string, error) {
	raw := base64.URLEncoding.EncodeToString(buildRFC822(d.from, msg))

	draft, err := d.service.Users.Drafts.Create("me", &gmail.Draft{
		Message: &gmail.Message{Raw: raw},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create draft: %w", err)
	}

	return draft.Id, nil
}

var _ Drafter = (*GmailDrafter)(nil)
