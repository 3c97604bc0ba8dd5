package drip

import (
	"context"
	"fmt"
	"strings"
)

// Summary reports one run.
type Summary struct {
	Sent    int      `json:"sent"`
	Total   int      `json:"total"`
	Results []Result `json:"results"`
}

func (s *Summary) add(results []Result) {
	for _, r := range results {
		s.Total++
		if r.Success {
			s.Sent++
		}
	}
	s.Results = append(s.Results, results...)
}

func (s *Summary) text(kind string, dryRun bool) string {
	var b strings.Builder
	mode := ""
	if dryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(&b, "%s run finished%s: %d/%d emails sent", kind, mode, s.Sent, s.Total)
	for _, r := range s.Results {
		if !r.Success {
			fmt.Fprintf(&b, "\n- %s", describe(r))
		}
	}
	return b.String()
}

// notify posts text and logs failures. It returns the thread to reply in.
func (e *Engine) notify(ctx context.Context, text, threadID string) string {
	thread, err := e.notifier.Notify(ctx, text, threadID)
	if err != nil {
		e.logger.Warn("failed to notify", "error", err)
		return threadID
	}
	return thread
}

// Run sends the onboarding and coverage emails due today. Installations are
// paged oldest first until a page comes back short or the daily limit is
// reached.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := e.now()
	defer func() {
		runDuration.WithLabelValues("drip").Observe(e.now().Sub(start).Seconds())
	}()

	summary := &Summary{}

	sentToday, err := e.store.CountEmailSendsSince(ctx, startOfDay(start))
	if err != nil {
		return nil, fmt.Errorf("failed to count today's emails: %w", err)
	}
	remaining := e.cfg.DailySendLimit - sentToday
	if remaining <= 0 {
		e.logger.Info("daily send limit reached", "sent_today", sentToday, "limit", e.cfg.DailySendLimit)
		return summary, nil
	}

	thread := e.notify(ctx, fmt.Sprintf("Drip run started (dry_run=%t, remaining=%d)", e.cfg.DryRun, remaining), "")
	e.logger.Info("drip run started", "dry_run", e.cfg.DryRun, "sent_today", sentToday, "remaining", remaining)

	state := NewRunState()
	for offset := 0; state.Sent < remaining; offset += e.cfg.PageSize {
		installs, err := e.store.ListInstallations(ctx, e.cfg.PageSize, offset)
		if err != nil {
			return summary, fmt.Errorf("failed to list installations: %w", err)
		}
		if len(installs) == 0 {
			break
		}

		batch, err := FetchBatch(ctx, e.store, installOwnerIDs(installs))
		if err != nil {
			return summary, err
		}

		results, err := e.ProcessBatch(ctx, installs, batch, state, remaining-state.Sent)
		summary.add(results)
		if err != nil {
			return summary, err
		}

		e.logger.Info("processed page", "offset", offset, "installations", len(installs), "attempted", len(results), "sent_total", state.Sent)
		if len(installs) < e.cfg.PageSize {
			break
		}
	}

	e.notify(ctx, summary.text("Drip", e.cfg.DryRun), thread)
	e.logger.Info("drip run finished", "sent", summary.Sent, "total", summary.Total)
	return summary, nil
}

// RunSalvage sends win-back emails, up to SalvageSendLimit per run.
func (e *Engine) RunSalvage(ctx context.Context) (*Summary, error) {
	start := e.now()
	defer func() {
		runDuration.WithLabelValues("salvage").Observe(e.now().Sub(start).Seconds())
	}()

	thread := e.notify(ctx, fmt.Sprintf("Salvage run started (dry_run=%t, limit=%d)", e.cfg.DryRun, e.cfg.SalvageSendLimit), "")
	e.logger.Info("salvage run started", "dry_run", e.cfg.DryRun, "limit", e.cfg.SalvageSendLimit)

	summary := &Summary{}
	results, err := e.ProcessSalvage(ctx, NewRunState(), e.cfg.SalvageSendLimit)
	summary.add(results)
	if err != nil {
		return summary, err
	}

	e.notify(ctx, summary.text("Salvage", e.cfg.DryRun), thread)
	e.logger.Info("salvage run finished", "sent", summary.Sent, "total", summary.Total)
	return summary, nil
}
