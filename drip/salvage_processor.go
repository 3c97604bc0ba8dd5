package drip

import (
	"context"
	"fmt"

	"github.com/gitauto-ai/drip/storage"
)

// salvageTargets merges uninstalled and subscribed installations into one
// list with one entry per owner. Uninstalled owners come first and win on
// collision.
func salvageTargets(uninstalled, subscribed []*storage.Installation) []*storage.Installation {
	targets := make([]*storage.Installation, 0, len(uninstalled)+len(subscribed))
	seen := make(map[int64]bool, len(uninstalled)+len(subscribed))

	for _, inst := range uninstalled {
		if inst.UninstalledAt == nil || seen[inst.OwnerID] {
			continue
		}
		seen[inst.OwnerID] = true
		targets = append(targets, inst)
	}
	for _, inst := range subscribed {
		if seen[inst.OwnerID] {
			continue
		}
		seen[inst.OwnerID] = true
		targets = append(targets, inst)
	}

	return targets
}

// ProcessSalvage sends win-back emails to churned owners: every uninstalled
// owner plus installed owners that once had a subscription. It stops once
// budget emails were sent. A failed read returns an error; failed sends and
// credit grants do not.
func (e *Engine) ProcessSalvage(ctx context.Context, state *RunState, budget int) ([]Result, error) {
	uninstalled, err := e.store.ListUninstalledInstallations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list uninstalled installations: %w", err)
	}
	subscribed, err := e.store.ListSubscribedInstallations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed installations: %w", err)
	}

	targets := salvageTargets(uninstalled, subscribed)
	e.logger.Info("salvage targets", "uninstalled", len(uninstalled), "subscribed", len(subscribed), "targets", len(targets))

	var results []Result
	sent := 0
	pageSize := max(e.cfg.PageSize, 1)

	for start := 0; start < len(targets) && sent < budget; start += pageSize {
		page := targets[start:min(start+pageSize, len(targets))]

		batch, err := FetchBatch(ctx, e.store, installOwnerIDs(page))
		if err != nil {
			return results, err
		}
		cb := NewContextBuilder(batch)

		for _, target := range page {
			if sent >= budget {
				break
			}
			if err := ctx.Err(); err != nil {
				return results, err
			}

			result, ok := e.salvageOwner(ctx, cb, target, state)
			if !ok {
				continue
			}
			results = append(results, result)
			if result.Success {
				sent++
			}
		}
	}

	return results, nil
}

func (e *Engine) salvageOwner(ctx context.Context, cb *ContextBuilder, target *storage.Installation, state *RunState) (Result, bool) {
	logger := e.logger.With("owner_id", target.OwnerID, "owner_name", target.OwnerName)

	sent := cb.SentEmails(target.OwnerID)
	if sent[EmailSalvage] {
		return Result{}, false
	}

	user, err := recipient(cb, target.OwnerID)
	if err != nil {
		logger.Debug("skipping salvage", "reason", err)
		return Result{}, false
	}
	if cb.HasReplied(user.UserID) {
		logger.Debug("skipping salvage", "reason", "user replied", "user_id", user.UserID)
		return Result{}, false
	}

	oc := cb.Build(target.OwnerID)
	if oc.HasActiveSubscription {
		logger.Debug("skipping salvage", "reason", "subscription active")
		return Result{}, false
	}
	if state.emailed(user.Email) {
		logger.Debug("skipping salvage", "reason", "user already emailed this run", "user_id", user.UserID)
		return Result{}, false
	}
	if oc.OwnerName == "" {
		oc.OwnerName = target.OwnerName
	}

	sc := SalvageContext{
		HadSubscription: oc.HadSubscription,
		HadMergedPR:     oc.HasMergedPR,
		HadPR:           oc.HasPRs,
		PRCount:         oc.PRCount,
		MergedPRCount:   oc.MergedPRCount,
		UninstalledAt:   target.UninstalledAt,
		CanceledAt:      oc.SubscriptionCanceledAt,
		FreeCreditUSD:   e.cfg.FreeCreditUSD,
		TopUpUSD:        topUpAmount(oc.CreditBalanceUSD, e.cfg.FreeCreditUSD),
	}
	to := Recipient{Email: user.Email, FirstName: user.FirstName, OwnerName: oc.OwnerName}

	result := e.send(ctx, EmailSalvage, to, oc, RenderSalvage(to, sc))
	if !result.Success {
		return result, true
	}
	sent[EmailSalvage] = true
	state.markEmailed(user.Email)
	logger.Info("salvage email sent", "variant", SelectSalvageVariant(sc))

	e.topUpCredits(ctx, oc.OwnerID, sc.TopUpUSD)
	return result, true
}

// topUpAmount is the credit needed to bring balance up to free. A nil
// balance counts as zero.
func topUpAmount(balance *float64, free float64) float64 {
	current := 0.0
	if balance != nil {
		current = *balance
	}
	if current >= free {
		return 0
	}
	return free - current
}

// topUpCredits grants amount as salvage credit. Errors are logged only; the
// email already went out.
func (e *Engine) topUpCredits(ctx context.Context, ownerID int64, amount float64) {
	if amount <= 0 {
		return
	}

	grant := &storage.CreditGrant{
		OwnerID:         ownerID,
		AmountUSD:       amount,
		TransactionType: storage.CreditSalvage,
		ExpiresAt:       e.now().Add(SalvageCreditExpiry),
	}
	if err := e.store.GrantCredit(ctx, grant); err != nil {
		creditGrantsTotal.WithLabelValues("failed").Inc()
		e.logger.Error("failed to grant salvage credits", "owner_id", ownerID, "amount_usd", amount, "error", err)
		return
	}
	creditGrantsTotal.WithLabelValues("granted").Inc()
	e.logger.Info("granted salvage credits", "owner_id", ownerID, "amount_usd", amount)
}
