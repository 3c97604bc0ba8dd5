package drip

// Email types recorded in the ledger.
const (
	EmailReviewSetupPR       = "review_setup_pr"
	EmailCoverageChartsIntro = "coverage_charts_intro"
	EmailSetTargetBranch     = "set_target_branch"
	EmailMergeTestPR         = "merge_test_pr"
	EmailPurchaseCredits     = "purchase_credits"

	EmailCoverage50 = "coverage_50"
	EmailCoverage80 = "coverage_80"
	EmailCoverage90 = "coverage_90"

	EmailSalvage = "salvage"
)

// ComfortableBalanceUSD is the credit balance above which the purchase nudge waits.
const ComfortableBalanceUSD = 20.0

// Recipient is who an email is addressed to.
type Recipient struct {
	Email     string
	FirstName string
	OwnerName string
}

// Content is a rendered email.
type Content struct {
	Subject string
	Body    string
}

// Step is one schedule entry. Skip passes over the step without using a
// slot; Pause stops the schedule for this run. Nil predicates are false.
type Step[C any] struct {
	Type   string
	Skip   func(C) bool
	Pause  func(C) bool
	Render func(Recipient, C) Content
}

func (s *Step[C]) skipped(ctx C) bool { return s.Skip != nil && s.Skip(ctx) }
func (s *Step[C]) paused(ctx C) bool  { return s.Pause != nil && s.Pause(ctx) }

// Milestone is a coverage threshold email.
type Milestone struct {
	Step[*OwnerContext]
	Pct float64
}

func hasPaid(c *OwnerContext) bool {
	return c.HasPurchasedCredits || c.HasActiveSubscription
}

// OnboardingSchedule is the ordered onboarding sequence.
var OnboardingSchedule = []Step[*OwnerContext]{
	{
		Type: EmailReviewSetupPR,
		Skip: func(c *OwnerContext) bool {
			return c.HasSetupPRMerged || c.HasCoverage || len(c.OpenSetupPRs) == 0
		},
		Render: renderReviewSetupPR,
	},
	{
		Type: EmailCoverageChartsIntro,
		Skip: func(c *OwnerContext) bool {
			return !c.HasCoverage && c.ReposWithCoverage == 0
		},
		Render: renderCoverageChartsIntro,
	},
	{
		Type: EmailSetTargetBranch,
		Skip: func(c *OwnerContext) bool {
			return c.HasMergedPR
		},
		Render: renderSetTargetBranch,
	},
	{
		Type: EmailMergeTestPR,
		Skip: func(c *OwnerContext) bool {
			return c.HasMergedPR || len(c.OpenPRs) == 0
		},
		Render: renderMergeTestPR,
	},
	{
		Type: EmailPurchaseCredits,
		Skip: func(c *OwnerContext) bool {
			return c.HasPurchasedCredits
		},
		Pause: func(c *OwnerContext) bool {
			if c.HasActiveSubscription || c.HasAutoReloadEnabled {
				return true
			}
			return c.CreditBalanceUSD != nil && *c.CreditBalanceUSD >= ComfortableBalanceUSD
		},
		Render: renderPurchaseCredits,
	},
}

// CoverageMilestones are the coverage threshold emails, lowest first.
var CoverageMilestones = []Milestone{
	{
		Pct: 50,
		Step: Step[*OwnerContext]{
			Type: EmailCoverage50,
			Pause: func(c *OwnerContext) bool {
				return !c.HasMergedPR
			},
			Render: renderCoverage50,
		},
	},
	{
		Pct: 80,
		Step: Step[*OwnerContext]{
			Type: EmailCoverage80,
			Pause: func(c *OwnerContext) bool {
				return !c.HasMergedPR || !hasPaid(c)
			},
			Render: renderCoverage80,
		},
	},
	{
		Pct: 90,
		Step: Step[*OwnerContext]{
			Type: EmailCoverage90,
			Pause: func(c *OwnerContext) bool {
				return !c.HasMergedPR || !hasPaid(c)
			},
			Render: renderCoverage90,
		},
	},
}

// NextOnboardingStep walks steps in order and returns the one to send now,
// or nil. Only non-skipped steps take a slot; step n's send day is
// firstDay + n*gapDays. A paused step or a step that is not due yet ends
// the walk. The walk has no side effects.
func NextOnboardingStep(steps []Step[*OwnerContext], ctx *OwnerContext, sent map[string]bool, daysSinceInstall, firstDay, gapDays int) *Step[*OwnerContext] {
	slot := 0
	for i := range steps {
		step := &steps[i]
		if step.paused(ctx) {
			return nil
		}
		if step.skipped(ctx) {
			continue
		}
		if sent[step.Type] {
			slot++
			continue
		}
		if daysSinceInstall < firstDay+slot*gapDays {
			return nil
		}
		return step
	}
	return nil
}

// NextMilestone returns the highest reached, unsent, unblocked milestone and
// the unsent lower milestones to backfill. Returns nil when the owner's
// coverage is unknown or nothing qualifies.
func NextMilestone(milestones []Milestone, ctx *OwnerContext, sent map[string]bool) (*Milestone, []string) {
	if ctx.OwnerCoveragePct == nil {
		return nil, nil
	}
	coverage := *ctx.OwnerCoveragePct

	for i := len(milestones) - 1; i >= 0; i-- {
		m := &milestones[i]
		if m.Pct > coverage || sent[m.Type] || m.skipped(ctx) || m.paused(ctx) {
			continue
		}

		var backfill []string
		for _, lower := range milestones {
			if lower.Pct < m.Pct && !sent[lower.Type] {
				backfill = append(backfill, lower.Type)
			}
		}
		return m, backfill
	}
	return nil, nil
}
