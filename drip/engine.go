package drip

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/gitauto-ai/drip/config"
	"github.com/gitauto-ai/drip/email"
	"github.com/gitauto-ai/drip/notify"
	"github.com/gitauto-ai/drip/storage"
)

// PRChecker reports whether a pull request is still open on GitHub.
type PRChecker interface {
	IsPullRequestOpen(ctx context.Context, installationID int64, owner, repo string, prNumber int) (bool, error)
}

// SalvageCreditExpiry is how long salvage credits stay valid.
const SalvageCreditExpiry = 90 * 24 * time.Hour

var errNoDrafter = errors.New("dry run requires a drafter")
var errNoSender = errors.New("live run requires a sender")

// Engine runs the drip email schedules.
type Engine struct {
	store     storage.Storage
	sender    email.Sender
	drafter   email.Drafter
	prChecker PRChecker
	notifier  notify.Notifier
	cfg       *config.Config
	logger    *slog.Logger

	now    func() time.Time
	jitter func(max time.Duration) time.Duration

	onboarding []Step[*OwnerContext]
	milestones []Milestone
}

// NewEngine creates an Engine. sender may be nil in dry-run mode and drafter
// may be nil in live mode. A nil notifier discards notifications.
func NewEngine(store storage.Storage, sender email.Sender, drafter email.Drafter, prChecker PRChecker, notifier notify.Notifier, cfg *config.Config, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Engine{
		store:      store,
		sender:     sender,
		drafter:    drafter,
		prChecker:  prChecker,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		jitter:     randomJitter,
		onboarding: OnboardingSchedule,
		milestones: CoverageMilestones,
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// SetClock overrides the engine's clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetJitter overrides how the random send delay is drawn.
func (e *Engine) SetJitter(fn func(max time.Duration) time.Duration) {
	e.jitter = fn
}

// Result is the outcome of one send attempt.
type Result struct {
	OwnerID   int64  `json:"owner_id"`
	EmailType string `json:"email_type"`
	Success   bool   `json:"success"`
}

// SendRequest is one email to send and record.
type SendRequest struct {
	OwnerID     int64
	OwnerName   string
	EmailType   string
	To          string
	Subject     string
	Body        string
	ScheduledAt time.Time
}

// scheduleTime spreads live sends over the configured window.
func (e *Engine) scheduleTime() time.Time {
	return e.now().Add(e.cfg.SendDelay + e.jitter(e.cfg.SendJitter))
}

// SendAndRecord sends (or drafts, in dry-run mode) one email and records it
// in the ledger when delivery succeeded. Failures are logged and reported in
// the result; the next run retries them.
func (e *Engine) SendAndRecord(ctx context.Context, req SendRequest) Result {
	result := Result{OwnerID: req.OwnerID, EmailType: req.EmailType}
	logger := e.logger.With("owner_id", req.OwnerID, "owner_name", req.OwnerName, "email_type", req.EmailType)

	msg := &email.Message{To: req.To, Subject: req.Subject, Body: req.Body}
	var id string
	var err error
	outcome := "sent"
	if e.cfg.DryRun {
		outcome = "drafted"
		if e.drafter == nil {
			err = errNoDrafter
		} else {
			id, err = e.drafter.CreateDraft(ctx, msg)
			if err == nil && id == "" {
				err = errors.New("draft created without id")
			}
		}
	} else {
		msg.ScheduledAt = req.ScheduledAt
		if e.sender == nil {
			err = errNoSender
		} else {
			id, err = e.sender.Send(ctx, msg)
		}
	}
	if err != nil {
		emailsTotal.WithLabelValues(req.EmailType, "failed").Inc()
		logger.Error("failed to send email", "dry_run", e.cfg.DryRun, "error", err)
		return result
	}

	result.Success = true
	emailsTotal.WithLabelValues(req.EmailType, outcome).Inc()

	if err := e.store.InsertEmailSend(ctx, &storage.EmailSend{
		OwnerID:       req.OwnerID,
		OwnerName:     req.OwnerName,
		EmailType:     req.EmailType,
		ResendEmailID: id,
	}); err != nil {
		logger.Error("failed to record email send", "email_id", id, "error", err)
		return result
	}

	logger.Info("email sent", "dry_run", e.cfg.DryRun, "email_id", id, "scheduled_at", req.ScheduledAt)
	return result
}
