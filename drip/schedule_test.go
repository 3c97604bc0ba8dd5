package drip

import (
	"slices"
	"strings"
	"testing"
)

func stepType(s *Step[*OwnerContext]) string {
	if s == nil {
		return ""
	}
	return s.Type
}

func sentSet(types ...string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

func TestNextOnboardingStep(t *testing.T) {
	tests := []struct {
		name string
		ctx  *OwnerContext
		sent map[string]bool
		days int
		want string
	}{
		{
			name: "fresh owner before first day",
			ctx:  &OwnerContext{},
			days: 0,
			want: "",
		},
		{
			name: "fresh owner on first day skips setup and charts",
			ctx:  &OwnerContext{},
			days: 1,
			want: EmailSetTargetBranch,
		},
		{
			name: "open setup PR comes first",
			ctx:  &OwnerContext{OpenSetupPRs: []SetupPR{{RepoName: "api", PRNumber: 1}}},
			days: 1,
			want: EmailReviewSetupPR,
		},
		{
			name: "setup PR skipped once coverage exists",
			ctx:  &OwnerContext{HasCoverage: true, OpenSetupPRs: []SetupPR{{RepoName: "api", PRNumber: 1}}},
			days: 1,
			want: EmailCoverageChartsIntro,
		},
		{
			name: "second slot not due yet",
			ctx:  &OwnerContext{OpenSetupPRs: []SetupPR{{RepoName: "api", PRNumber: 1}}},
			sent: sentSet(EmailReviewSetupPR),
			days: 3,
			want: "",
		},
		{
			name: "second slot due",
			ctx:  &OwnerContext{OpenSetupPRs: []SetupPR{{RepoName: "api", PRNumber: 1}}},
			sent: sentSet(EmailReviewSetupPR),
			days: 4,
			want: EmailSetTargetBranch,
		},
		{
			name: "skipped steps do not use a slot",
			ctx:  &OwnerContext{HasMergedPR: true},
			days: 1,
			want: EmailPurchaseCredits,
		},
		{
			name: "merge nudge with open PRs",
			ctx:  &OwnerContext{OpenPRs: []OpenPR{{OwnerName: "acme", RepoName: "api", PRNumber: 7}}},
			sent: sentSet(EmailSetTargetBranch),
			days: 4,
			want: EmailMergeTestPR,
		},
		{
			name: "purchase nudge paused by active subscription",
			ctx:  &OwnerContext{HasActiveSubscription: true},
			sent: sentSet(EmailSetTargetBranch),
			days: 30,
			want: "",
		},
		{
			name: "purchase nudge paused by auto reload",
			ctx:  &OwnerContext{HasAutoReloadEnabled: true},
			sent: sentSet(EmailSetTargetBranch),
			days: 30,
			want: "",
		},
		{
			name: "purchase nudge paused by comfortable balance",
			ctx:  &OwnerContext{CreditBalanceUSD: pct(25)},
			sent: sentSet(EmailSetTargetBranch),
			days: 30,
			want: "",
		},
		{
			name: "purchase nudge sent on low balance",
			ctx:  &OwnerContext{CreditBalanceUSD: pct(3)},
			sent: sentSet(EmailSetTargetBranch),
			days: 30,
			want: EmailPurchaseCredits,
		},
		{
			name: "pause only applies once reached",
			ctx:  &OwnerContext{HasActiveSubscription: true},
			days: 1,
			want: EmailSetTargetBranch,
		},
		{
			name: "purchased credits skips the nudge",
			ctx:  &OwnerContext{HasPurchasedCredits: true},
			sent: sentSet(EmailSetTargetBranch),
			days: 30,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := tt.sent
			if sent == nil {
				sent = map[string]bool{}
			}
			got := NextOnboardingStep(OnboardingSchedule, tt.ctx, sent, tt.days, 1, 3)
			if stepType(got) != tt.want {
				t.Errorf("NextOnboardingStep() = %q, want %q", stepType(got), tt.want)
			}
		})
	}
}

func TestNextOnboardingStepIsIdempotent(t *testing.T) {
	ctx := &OwnerContext{OpenPRs: []OpenPR{{OwnerName: "acme", RepoName: "api", PRNumber: 7}}}
	sent := sentSet(EmailSetTargetBranch)

	first := NextOnboardingStep(OnboardingSchedule, ctx, sent, 10, 1, 3)
	second := NextOnboardingStep(OnboardingSchedule, ctx, sent, 10, 1, 3)

	if stepType(first) != stepType(second) {
		t.Errorf("walk changed between calls: %q then %q", stepType(first), stepType(second))
	}
	if len(sent) != 1 {
		t.Errorf("walk mutated sent set: %v", sent)
	}
}

func TestNextOnboardingStepReturnsOneUnsentStep(t *testing.T) {
	ctx := &OwnerContext{}
	sent := map[string]bool{}
	seen := map[string]bool{}

	// Marking each returned step walks the sequence one email at a time.
	for i := 0; i < len(OnboardingSchedule)+1; i++ {
		step := NextOnboardingStep(OnboardingSchedule, ctx, sent, 365, 1, 3)
		if step == nil {
			break
		}
		if seen[step.Type] || sent[step.Type] {
			t.Fatalf("step %q returned twice", step.Type)
		}
		seen[step.Type] = true
		sent[step.Type] = true
	}

	want := []string{EmailSetTargetBranch, EmailPurchaseCredits}
	for _, w := range want {
		if !seen[w] {
			t.Errorf("step %q never returned, got %v", w, seen)
		}
	}
	if len(seen) != len(want) {
		t.Errorf("returned %d steps, want %d", len(seen), len(want))
	}
}

func TestNextMilestone(t *testing.T) {
	engaged := func(coverage float64) *OwnerContext {
		return &OwnerContext{OwnerCoveragePct: pct(coverage), HasMergedPR: true, HasPurchasedCredits: true}
	}

	tests := []struct {
		name         string
		ctx          *OwnerContext
		sent         map[string]bool
		want         string
		wantBackfill []string
	}{
		{
			name: "unknown coverage",
			ctx:  &OwnerContext{HasMergedPR: true, HasPurchasedCredits: true},
			want: "",
		},
		{
			name: "below every threshold",
			ctx:  engaged(42),
			want: "",
		},
		{
			name: "exactly fifty",
			ctx:  engaged(50),
			want: EmailCoverage50,
		},
		{
			name:         "eighty backfills fifty",
			ctx:          engaged(85),
			want:         EmailCoverage80,
			wantBackfill: []string{EmailCoverage50},
		},
		{
			name:         "ninety backfills both",
			ctx:          engaged(92),
			want:         EmailCoverage90,
			wantBackfill: []string{EmailCoverage50, EmailCoverage80},
		},
		{
			name:         "already sent lower is not backfilled",
			ctx:          engaged(92),
			sent:         sentSet(EmailCoverage50),
			want:         EmailCoverage90,
			wantBackfill: []string{EmailCoverage80},
		},
		{
			name: "no merged PR pauses all",
			ctx:  &OwnerContext{OwnerCoveragePct: pct(95), HasPurchasedCredits: true},
			want: "",
		},
		{
			name: "unpaid falls back to fifty",
			ctx:  &OwnerContext{OwnerCoveragePct: pct(95), HasMergedPR: true},
			want: EmailCoverage50,
		},
		{
			name:         "active subscription counts as paid",
			ctx:          &OwnerContext{OwnerCoveragePct: pct(81), HasMergedPR: true, HasActiveSubscription: true},
			want:         EmailCoverage80,
			wantBackfill: []string{EmailCoverage50},
		},
		{
			name: "all sent",
			ctx:  engaged(99),
			sent: sentSet(EmailCoverage50, EmailCoverage80, EmailCoverage90),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := tt.sent
			if sent == nil {
				sent = map[string]bool{}
			}
			got, backfill := NextMilestone(CoverageMilestones, tt.ctx, sent)

			gotType := ""
			if got != nil {
				gotType = got.Type
			}
			if gotType != tt.want {
				t.Errorf("NextMilestone() = %q, want %q", gotType, tt.want)
			}
			if !slices.Equal(backfill, tt.wantBackfill) {
				t.Errorf("backfill = %v, want %v", backfill, tt.wantBackfill)
			}
		})
	}
}

func TestSchedulesRender(t *testing.T) {
	to := Recipient{Email: "ada@example.com", FirstName: "Ada", OwnerName: "acme"}
	ctx := &OwnerContext{
		OwnerName:        "acme",
		OwnerCoveragePct: pct(83),
		OpenSetupPRs:     []SetupPR{{RepoName: "api", PRNumber: 3}},
		OpenPRs:          []OpenPR{{OwnerName: "acme", RepoName: "web", PRNumber: 9}},
		NeediestRepo:     "web",
		NeediestRepoPct:  pct(12),
		Benchmark:        &Benchmark{LinesTotal: 8500, CoveragePct: 94},
	}

	for _, step := range OnboardingSchedule {
		content := step.Render(to, ctx)
		if content.Subject == "" || content.Body == "" {
			t.Errorf("%s rendered empty content", step.Type)
		}
	}
	for _, m := range CoverageMilestones {
		content := m.Render(to, ctx)
		if content.Subject == "" || content.Body == "" {
			t.Errorf("%s rendered empty content", m.Type)
		}
	}

	body := renderMergeTestPR(to, ctx).Body
	if want := "https://github.com/acme/web/pull/9"; !strings.Contains(body, want) {
		t.Errorf("merge nudge body missing %q:\n%s", want, body)
	}
	body = renderPurchaseCredits(to, ctx).Body
	if want := "reached 94%"; !strings.Contains(body, want) {
		t.Errorf("purchase nudge body missing %q:\n%s", want, body)
	}
}
