package drip

import (
	"fmt"
	"strings"
	"time"
)

// SalvageVariant selects the win-back message.
type SalvageVariant string

// Salvage variants in priority order.
const (
	SalvageSubscription SalvageVariant = "subscription"
	SalvageMergedPR     SalvageVariant = "merged_pr"
	SalvagePR           SalvageVariant = "pr"
	SalvageGeneric      SalvageVariant = "generic"
)

// SalvageContext is the engagement history of a churned owner.
type SalvageContext struct {
	HadSubscription bool
	HadMergedPR     bool
	HadPR           bool
	PRCount         int
	MergedPRCount   int
	UninstalledAt   *time.Time
	CanceledAt      *time.Time
	// FreeCreditUSD is the balance the owner is topped up to.
	FreeCreditUSD float64
	// TopUpUSD is the credit granted after the send; zero omits the credit line.
	TopUpUSD float64
}

// SelectSalvageVariant picks exactly one variant: subscription, then merged
// PR, then any PR, then generic.
func SelectSalvageVariant(c SalvageContext) SalvageVariant {
	switch {
	case c.HadSubscription:
		return SalvageSubscription
	case c.HadMergedPR:
		return SalvageMergedPR
	case c.HadPR:
		return SalvagePR
	default:
		return SalvageGeneric
	}
}

// RenderSalvage renders the win-back email for the selected variant.
func RenderSalvage(to Recipient, c SalvageContext) Content {
	return Content{
		Subject: salvageSubject(to, c),
		Body:    salvageBody(to, c),
	}
}

func salvageSubject(to Recipient, c SalvageContext) string {
	switch SelectSalvageVariant(c) {
	case SalvageSubscription:
		return "What made you cancel GitAuto?"
	case SalvageMergedPR:
		return fmt.Sprintf("Your merged tests in %s are still there", to.OwnerName)
	case SalvagePR:
		return "Did GitAuto's test PRs miss the mark?"
	default:
		return "Should I close your GitAuto account?"
	}
}

func salvageBody(to Recipient, c SalvageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", greeting(to))

	switch SelectSalvageVariant(c) {
	case SalvageSubscription:
		b.WriteString("You were a paying GitAuto customer, and then you weren't. ")
		if c.CanceledAt != nil {
			fmt.Fprintf(&b, "Since you canceled on %s, ", c.CanceledAt.Format("January 2"))
		} else {
			b.WriteString("Since you left, ")
		}
		b.WriteString("we've shipped a lot, and I'd genuinely like to know what didn't work for you.\n")
	case SalvageMergedPR:
		fmt.Fprintf(&b, "You merged %s from GitAuto before uninstalling. ", plural(c.MergedPRCount, "test PR", "test PRs"))
		b.WriteString("Those tests are still protecting your code. I'd love to understand what made you stop.\n")
	case SalvagePR:
		fmt.Fprintf(&b, "GitAuto opened %s for %s, but none got merged. ", plural(c.PRCount, "test PR", "test PRs"), to.OwnerName)
		b.WriteString("If the tests weren't good enough, tell me what was wrong and I'll look into it personally.\n")
	default:
		fmt.Fprintf(&b, "You installed GitAuto on %s but never got to see it write a test. ", to.OwnerName)
		b.WriteString("Was setup confusing, or was it just the wrong time?\n")
	}

	if c.TopUpUSD > 0 {
		fmt.Fprintf(&b, "\nI've topped your account up to $%.0f in free credits in case you want to give it another try: %s\n", c.FreeCreditUSD, installURL)
	}

	b.WriteString(signature)
	return b.String()
}
