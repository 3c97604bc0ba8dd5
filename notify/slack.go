// Package notify posts drip run updates to the team chat.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Notifier posts text and returns the thread it belongs to. Passing a
// non-empty threadID replies inside that thread.
type Notifier interface {
	Notify(ctx context.Context, text, threadID string) (string, error)
}

// Slack posts messages to a single channel.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack creates a notifier for channel using a bot token.
func NewSlack(token, channel string, options ...slack.Option) *Slack {
	return &Slack{
		client:  slack.New(token, options...),
		channel: channel,
	}
}

// Notify posts text to the channel. The returned thread id is the parent
// message timestamp, so follow-ups can be threaded under it.
func (s *Slack) Notify(ctx context.Context, text, threadID string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}

	_, ts, err := s.client.PostMessageContext(ctx, s.channel, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to post slack message: %w", err)
	}

	if threadID != "" {
		return threadID, nil
	}
	return ts, nil
}

// Noop discards notifications. Used when no Slack token is configured.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(_ context.Context, _, threadID string) (string, error) {
	return threadID, nil
}

var (
	_ Notifier = (*Slack)(nil)
	_ Notifier = Noop{}
)
