package drip

import (
	"fmt"
	"strings"
)

const (
	dashboardURL = "https://gitauto.ai/dashboard"
	chartsURL    = "https://gitauto.ai/dashboard/charts"
	settingsURL  = "https://gitauto.ai/settings/rules"
	pricingURL   = "https://gitauto.ai/dashboard/credits"
	installURL   = "https://github.com/apps/gitauto-ai"
	signature    = "\nWes\nFounder, GitAuto\n"
)

func greeting(to Recipient) string {
	if to.FirstName == "" {
		return "Hi there,"
	}
	return fmt.Sprintf("Hi %s,", to.FirstName)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

func formatPct(p *float64) string {
	if p == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.0f%%", *p)
}

func renderReviewSetupPR(to Recipient, c *OwnerContext) Content {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", greeting(to))
	b.WriteString("GitAuto opened a setup PR that adds coverage reporting so we know where tests are missing. ")
	b.WriteString("Once it's merged, GitAuto can start writing tests for the files that need them most.\n\n")
	for _, pr := range c.OpenSetupPRs {
		fmt.Fprintf(&b, "- %s\n", OpenPR{OwnerName: to.OwnerName, RepoName: pr.RepoName, PRNumber: pr.PRNumber}.URL())
	}
	b.WriteString("\nIf something in it looks off, just reply and I'll help.\n")
	b.WriteString(signature)

	return Content{
		Subject: "Your GitAuto setup PR is ready for review",
		Body:    b.String(),
	}
}

func renderCoverageChartsIntro(to Recipient, c *OwnerContext) Content {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", greeting(to))
	if c.OwnerCoveragePct != nil {
		fmt.Fprintf(&b, "%s is at %s line coverage across %s. ", to.OwnerName, formatPct(c.OwnerCoveragePct), plural(c.ReposWithCoverage, "repo", "repos"))
	}
	fmt.Fprintf(&b, "You can follow coverage over time on your charts page: %s\n", chartsURL)
	if c.NeediestRepo != "" {
		fmt.Fprintf(&b, "\n%s has the most untested code (%d uncovered lines), so that's where GitAuto will help the most.\n", c.NeediestRepo, c.NeediestRepoUncovered)
	}
	b.WriteString(signature)

	return Content{
		Subject: fmt.Sprintf("See %s's test coverage at a glance", to.OwnerName),
		Body:    b.String(),
	}
}

func renderSetTargetBranch(to Recipient, c *OwnerContext) Content {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", greeting(to))
	b.WriteString("GitAuto opens test PRs against your default branch. ")
	b.WriteString("If your team merges into a different branch (develop, staging), set it as the target branch so PRs land where you need them: ")
	b.WriteString(settingsURL + "\n")
	if c.UnscheduledRepos > 0 {
		fmt.Fprintf(&b, "\nWhile you're there, %s no schedule yet. Turning it on lets GitAuto add tests every day without anyone asking.\n", plural(c.UnscheduledRepos, "repo has", "repos have"))
	}
	b.WriteString(signature)

	return Content{
		Subject: "Is GitAuto targeting the right branch?",
		Body:    b.String(),
	}
}

func renderMergeTestPR(to Recipient, c *OwnerContext) Content {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", greeting(to))
	fmt.Fprintf(&b, "You have %s from GitAuto waiting for review:\n\n", plural(len(c.OpenPRs), "test PR", "test PRs"))
	for _, pr := range c.OpenPRs {
		fmt.Fprintf(&b, "- %s\n", pr.URL())
	}
	b.WriteString("\nComment on the PR if a test needs changes and GitAuto will update it.\n")
	b.WriteString(signature)

	return Content{
		Subject: fmt.Sprintf("%s waiting in %s", plural(len(c.OpenPRs), "test PR", "test PRs"), to.OwnerName),
		Body:    b.String(),
	}
}

func renderPurchaseCredits(to Recipient, c *OwnerContext) Content {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", greeting(to))
	if c.CreditBalanceUSD != nil {
		fmt.Fprintf(&b, "You have $%.2f in GitAuto credits left. ", *c.CreditBalanceUSD)
	}
	if c.NeediestRepo != "" && c.NeediestRepoPct != nil {
		fmt.Fprintf(&b, "%s is at %s coverage", c.NeediestRepo, formatPct(c.NeediestRepoPct))
		if c.Benchmark != nil {
			fmt.Fprintf(&b, ", while a similar-size repo (%d lines) using GitAuto reached %d%%", c.Benchmark.LinesTotal, c.Benchmark.CoveragePct)
		}
		b.WriteString(". ")
	}
	fmt.Fprintf(&b, "Add credits or turn on auto-reload to keep tests coming: %s\n", pricingURL)
	b.WriteString(signature)

	return Content{
		Subject: "Keep GitAuto writing tests",
		Body:    b.String(),
	}
}

func renderCoverage50(to Recipient, c *OwnerContext) Content {
	return Content{
		Subject: fmt.Sprintf("%s passed 50%% test coverage", to.OwnerName),
		Body: fmt.Sprintf("%s\n\n%s is now at %s line coverage. Halfway there! Track progress at %s\n%s",
			greeting(to), to.OwnerName, formatPct(c.OwnerCoveragePct), chartsURL, signature),
	}
}

func renderCoverage80(to Recipient, c *OwnerContext) Content {
	return Content{
		Subject: fmt.Sprintf("%s hit 80%% test coverage", to.OwnerName),
		Body: fmt.Sprintf("%s\n\n%s is at %s line coverage, which puts you ahead of most teams. "+
			"Would you share a sentence or two about your experience with GitAuto? Just hit reply.\n%s",
			greeting(to), to.OwnerName, formatPct(c.OwnerCoveragePct), signature),
	}
}

func renderCoverage90(to Recipient, c *OwnerContext) Content {
	return Content{
		Subject: fmt.Sprintf("%s reached 90%% test coverage", to.OwnerName),
		Body: fmt.Sprintf("%s\n\n%s is at %s line coverage. That's rare. "+
			"If you know another team that could use the same, I'd be grateful for an intro: %s\n%s",
			greeting(to), to.OwnerName, formatPct(c.OwnerCoveragePct), dashboardURL, signature),
	}
}
