package drip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gitauto-ai/drip/storage"
)

// ErrNoRecipient means an owner has no user with an email address to write to.
var ErrNoRecipient = errors.New("no recipient")

// RunState is the state shared by every batch of one run. It is not safe
// for concurrent use; owners are processed one at a time.
type RunState struct {
	// EmailedUsers holds lowercased addresses already mailed this run.
	EmailedUsers map[string]bool
	// Sent counts successful sends this run.
	Sent int
}

// NewRunState creates an empty RunState.
func NewRunState() *RunState {
	return &RunState{EmailedUsers: make(map[string]bool)}
}

func (s *RunState) emailed(addr string) bool {
	return s.EmailedUsers[strings.ToLower(addr)]
}

func (s *RunState) markEmailed(addr string) {
	s.EmailedUsers[strings.ToLower(addr)] = true
	s.Sent++
}

// recipient resolves who to write to for ownerID.
func recipient(cb *ContextBuilder, ownerID int64) (*UserInfo, error) {
	user := cb.UserInfo(ownerID)
	if user == nil {
		return nil, ErrNoRecipient
	}
	return user, nil
}

// ProcessBatch runs the onboarding and coverage schedules for installs, in
// the given order, and sends at most one email per owner and per user.
// It stops once budget emails were sent by this call. Send failures are
// reported in the results; only context cancellation returns an error.
func (e *Engine) ProcessBatch(ctx context.Context, installs []*storage.Installation, batch *Batch, state *RunState, budget int) ([]Result, error) {
	cb := NewContextBuilder(batch)
	var results []Result
	sent := 0

	for _, install := range installs {
		if sent >= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, ok := e.processOwner(ctx, cb, install, state)
		if !ok {
			continue
		}
		results = append(results, result)
		if result.Success {
			sent++
		}
	}

	return results, nil
}

// processOwner picks and sends the next email for one installation. ok is
// false when nothing was attempted.
func (e *Engine) processOwner(ctx context.Context, cb *ContextBuilder, install *storage.Installation, state *RunState) (Result, bool) {
	logger := e.logger.With("owner_id", install.OwnerID, "owner_name", install.OwnerName)

	user, err := recipient(cb, install.OwnerID)
	if err != nil {
		logger.Debug("skipping owner", "reason", err)
		return Result{}, false
	}
	if state.emailed(user.Email) {
		logger.Debug("skipping owner", "reason", "user already emailed this run", "user_id", user.UserID)
		return Result{}, false
	}
	if cb.HasReplied(user.UserID) {
		logger.Debug("skipping owner", "reason", "user replied", "user_id", user.UserID)
		return Result{}, false
	}

	sent := cb.SentEmails(install.OwnerID)
	oc := cb.Build(install.OwnerID)
	if oc.OwnerName == "" {
		oc.OwnerName = install.OwnerName
	}
	if !sent[EmailReviewSetupPR] && len(oc.OpenSetupPRs) > 0 {
		oc.OpenSetupPRs = e.stillOpen(ctx, install, oc.OpenSetupPRs)
	}

	to := Recipient{Email: user.Email, FirstName: user.FirstName, OwnerName: oc.OwnerName}
	days := int(e.now().Sub(install.CreatedAt).Hours() / 24)

	if step := NextOnboardingStep(e.onboarding, oc, sent, days, e.cfg.FirstEmailDay, e.cfg.GapDays); step != nil {
		result := e.send(ctx, step.Type, to, oc, step.Render(to, oc))
		if result.Success {
			sent[step.Type] = true
			state.markEmailed(user.Email)
		}
		return result, true
	}

	milestone, backfill := NextMilestone(e.milestones, oc, sent)
	if milestone == nil {
		return Result{}, false
	}
	result := e.send(ctx, milestone.Type, to, oc, milestone.Render(to, oc))
	if !result.Success {
		return result, true
	}
	sent[milestone.Type] = true
	state.markEmailed(user.Email)
	e.backfill(ctx, oc, sent, backfill)

	return result, true
}

func (e *Engine) send(ctx context.Context, emailType string, to Recipient, oc *OwnerContext, content Content) Result {
	return e.SendAndRecord(ctx, SendRequest{
		OwnerID:     oc.OwnerID,
		OwnerName:   oc.OwnerName,
		EmailType:   emailType,
		To:          to.Email,
		Subject:     content.Subject,
		Body:        content.Body,
		ScheduledAt: e.scheduleTime(),
	})
}

// backfill records lower milestones as sent without mailing them, so a
// later run never celebrates a milestone below one already acknowledged.
// A failed write is logged; the type is still marked for this pass.
func (e *Engine) backfill(ctx context.Context, oc *OwnerContext, sent map[string]bool, types []string) {
	for _, t := range types {
		err := e.store.InsertEmailSend(ctx, &storage.EmailSend{
			OwnerID:    oc.OwnerID,
			OwnerName:  oc.OwnerName,
			EmailType:  t,
			Backfilled: true,
		})
		if err != nil {
			e.logger.Error("failed to backfill milestone", "owner_id", oc.OwnerID, "email_type", t, "error", err)
		} else {
			emailsTotal.WithLabelValues(t, "backfilled").Inc()
		}
		sent[t] = true
	}
}

// stillOpen keeps the setup PRs that are open on GitHub. A failed check
// counts as closed.
func (e *Engine) stillOpen(ctx context.Context, install *storage.Installation, prs []SetupPR) []SetupPR {
	if e.prChecker == nil {
		return prs
	}

	var open []SetupPR
	for _, pr := range prs {
		ok, err := e.prChecker.IsPullRequestOpen(ctx, install.InstallationID, install.OwnerName, pr.RepoName, pr.PRNumber)
		if err != nil {
			e.logger.Warn("failed to check setup PR",
				"owner_name", install.OwnerName,
				"repo", pr.RepoName,
				"pr_number", pr.PRNumber,
				"error", err,
			)
			continue
		}
		if ok {
			open = append(open, pr)
		}
	}
	return open
}

// startOfDay returns midnight UTC of t's day.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// installOwnerIDs returns the distinct owner ids of installs, in order.
func installOwnerIDs(installs []*storage.Installation) []int64 {
	ids := make([]int64, 0, len(installs))
	seen := make(map[int64]bool, len(installs))
	for _, inst := range installs {
		if seen[inst.OwnerID] {
			continue
		}
		seen[inst.OwnerID] = true
		ids = append(ids, inst.OwnerID)
	}
	return ids
}

func describe(r Result) string {
	status := "ok"
	if !r.Success {
		status = "failed"
	}
	return fmt.Sprintf("%d %s %s", r.OwnerID, r.EmailType, status)
}
