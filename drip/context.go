// Package drip decides and sends GitAuto lifecycle emails.
package drip

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gitauto-ai/drip/storage"
)

// SetupPR is an unmerged coverage setup PR.
type SetupPR struct {
	RepoName string
	PRNumber int
}

// OpenPR is an unmerged GitAuto test PR.
type OpenPR struct {
	OwnerName string
	RepoName  string
	PRNumber  int
}

// URL returns the GitHub link of the PR.
func (pr OpenPR) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", pr.OwnerName, pr.RepoName, pr.PRNumber)
}

// OwnerContext is everything the schedules need to know about one owner.
// It is rebuilt on every run and never stored.
type OwnerContext struct {
	OwnerID   int64
	OwnerName string

	// Coverage
	HasCoverage           bool
	OwnerCoveragePct      *float64
	ReposWithCoverage     int
	TotalRepos            int
	ScheduledRepos        int
	UnscheduledRepos      int
	NeediestRepo          string
	NeediestRepoPct       *float64
	NeediestRepoUncovered int
	Benchmark             *Benchmark

	// Setup PR
	HasSetupPR       bool
	HasSetupPRMerged bool
	OpenSetupPRs     []SetupPR

	// Test PRs
	HasPRs        bool
	HasMergedPR   bool
	PRCount       int
	MergedPRCount int
	OpenPRs       []OpenPR

	// Billing
	HasPurchasedCredits    bool
	HasActiveSubscription  bool
	HadSubscription        bool
	SubscriptionCanceledAt *time.Time
	HasAutoReloadEnabled   bool
	CreditBalanceUSD       *float64
}

// UserInfo identifies the person to email for an owner.
type UserInfo struct {
	UserID    int64
	UserName  string
	Email     string
	FirstName string
}

type repoCounts struct {
	total     int
	scheduled int
}

type prState struct {
	pr     OpenPR
	merged bool
}

type usageSummary struct {
	setupKeys []string
	setup     map[string]*prState
	prKeys    []string
	prs       map[string]*prState
}

// ContextBuilder indexes one batch by owner. Indices are built in a single
// pass over each collection; lookups afterwards do no I/O.
type ContextBuilder struct {
	owners        map[int64]*storage.Owner
	users         map[int64]*storage.User
	sent          map[int64]map[string]bool
	repos         map[int64]*repoCounts
	purchased     map[int64]bool
	usage         map[int64]*usageSummary
	ownerCoverage map[int64]*storage.Coverage
	repoCoverage  map[int64][]*storage.Coverage
	benchmarkPool []*storage.Coverage
	subscriptions map[string][]*storage.Subscription
	replied       map[int64]bool
}

// NewContextBuilder indexes batch.
func NewContextBuilder(batch *Batch) *ContextBuilder {
	b := &ContextBuilder{
		owners:        make(map[int64]*storage.Owner, len(batch.Owners)),
		users:         make(map[int64]*storage.User, len(batch.Users)),
		sent:          make(map[int64]map[string]bool, len(batch.SentEmails)),
		repos:         make(map[int64]*repoCounts),
		purchased:     make(map[int64]bool, len(batch.PurchaseOwnerIDs)),
		usage:         make(map[int64]*usageSummary),
		ownerCoverage: make(map[int64]*storage.Coverage),
		repoCoverage:  make(map[int64][]*storage.Coverage),
		subscriptions: make(map[string][]*storage.Subscription),
		replied:       make(map[int64]bool, len(batch.RepliedUserIDs)),
	}

	for _, owner := range batch.Owners {
		b.owners[owner.OwnerID] = owner
	}
	for _, user := range batch.Users {
		b.users[user.UserID] = user
	}
	for ownerID, types := range batch.SentEmails {
		set := make(map[string]bool, len(types))
		for _, t := range types {
			set[t] = true
		}
		b.sent[ownerID] = set
	}
	for _, repo := range batch.Repositories {
		counts := b.repos[repo.OwnerID]
		if counts == nil {
			counts = &repoCounts{}
			b.repos[repo.OwnerID] = counts
		}
		counts.total++
		if repo.TriggerOnSchedule {
			counts.scheduled++
		}
	}
	for _, id := range batch.PurchaseOwnerIDs {
		b.purchased[id] = true
	}
	for _, u := range batch.Usage {
		b.indexUsage(u)
	}

	// Coverage rows arrive newest first, so the first row seen is the latest.
	for _, c := range batch.OwnerCoverage {
		if _, ok := b.ownerCoverage[c.OwnerID]; !ok {
			b.ownerCoverage[c.OwnerID] = c
		}
	}
	seen := make(map[string]bool)
	for _, c := range batch.RepoCoverage {
		key := repoKey(c.OwnerID, c.RepoName)
		if seen[key] {
			continue
		}
		seen[key] = true
		b.repoCoverage[c.OwnerID] = append(b.repoCoverage[c.OwnerID], c)
	}
	seen = make(map[string]bool)
	for _, c := range batch.AllRepoCoverage {
		key := repoKey(c.OwnerID, c.RepoName)
		if seen[key] {
			continue
		}
		seen[key] = true
		b.benchmarkPool = append(b.benchmarkPool, c)
	}

	for _, sub := range batch.Subscriptions {
		b.subscriptions[sub.CustomerID] = append(b.subscriptions[sub.CustomerID], sub)
	}
	for _, id := range batch.RepliedUserIDs {
		b.replied[id] = true
	}

	return b
}

func repoKey(ownerID int64, repo string) string {
	return strconv.FormatInt(ownerID, 10) + "/" + repo
}

func (b *ContextBuilder) indexUsage(u *storage.Usage) {
	if u.PRNumber == 0 {
		return
	}
	summary := b.usage[u.OwnerID]
	if summary == nil {
		summary = &usageSummary{
			setup: make(map[string]*prState),
			prs:   make(map[string]*prState),
		}
		b.usage[u.OwnerID] = summary
	}

	pr := OpenPR{OwnerName: u.OwnerName, RepoName: u.RepoName, PRNumber: u.PRNumber}
	if u.Trigger == storage.TriggerSetup {
		key := fmt.Sprintf("%s#%d", u.RepoName, u.PRNumber)
		state := summary.setup[key]
		if state == nil {
			state = &prState{pr: pr}
			summary.setup[key] = state
			summary.setupKeys = append(summary.setupKeys, key)
		}
		state.merged = state.merged || u.IsMerged
		return
	}

	key := fmt.Sprintf("%s/%s#%d", u.OwnerName, u.RepoName, u.PRNumber)
	state := summary.prs[key]
	if state == nil {
		state = &prState{pr: pr}
		summary.prs[key] = state
		summary.prKeys = append(summary.prKeys, key)
	}
	state.merged = state.merged || u.IsMerged
}

// ParseCreatedBy splits an owner's created_by value ("userId:userName").
func ParseCreatedBy(createdBy string) (userID int64, userName string, ok bool) {
	idPart, name, found := strings.Cut(createdBy, ":")
	if !found {
		return 0, "", false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, name, true
}

// SplitName splits a display name on whitespace. A single word has an empty last name.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// UserInfo resolves the creator of the owner. Nil when the owner, the user
// or the user's email is unknown.
func (b *ContextBuilder) UserInfo(ownerID int64) *UserInfo {
	owner := b.owners[ownerID]
	if owner == nil {
		return nil
	}
	userID, userName, ok := ParseCreatedBy(owner.CreatedBy)
	if !ok {
		return nil
	}
	user := b.users[userID]
	if user == nil || user.Email == "" {
		return nil
	}

	name := user.DisplayNameOverride
	if name == "" {
		name = user.DisplayName
	}
	if name == "" {
		name = userName
	}
	first, _ := SplitName(name)

	return &UserInfo{
		UserID:    userID,
		UserName:  userName,
		Email:     user.Email,
		FirstName: first,
	}
}

// HasReplied reports whether the user ever replied to a drip email.
func (b *ContextBuilder) HasReplied(userID int64) bool {
	return b.replied[userID]
}

// SentEmails returns the owner's sent-set. The same map is returned on every
// call so callers can record new sends in place for the rest of the pass.
func (b *ContextBuilder) SentEmails(ownerID int64) map[string]bool {
	set := b.sent[ownerID]
	if set == nil {
		set = make(map[string]bool)
		b.sent[ownerID] = set
	}
	return set
}

// Build assembles the decision context of one owner. Unknown owners get a
// zero context.
func (b *ContextBuilder) Build(ownerID int64) *OwnerContext {
	ctx := &OwnerContext{OwnerID: ownerID}

	owner := b.owners[ownerID]
	if owner != nil {
		ctx.OwnerName = owner.OwnerName
		ctx.HasAutoReloadEnabled = owner.AutoReloadEnabled
		ctx.CreditBalanceUSD = owner.CreditBalanceUSD
		if owner.StripeCustomerID != "" {
			for _, sub := range b.subscriptions[owner.StripeCustomerID] {
				ctx.HadSubscription = true
				if sub.IsActive() {
					ctx.HasActiveSubscription = true
				}
				if sub.CanceledAt != nil && (ctx.SubscriptionCanceledAt == nil || sub.CanceledAt.After(*ctx.SubscriptionCanceledAt)) {
					ctx.SubscriptionCanceledAt = sub.CanceledAt
				}
			}
		}
	}
	ctx.HasPurchasedCredits = b.purchased[ownerID]

	if latest := b.ownerCoverage[ownerID]; latest != nil && latest.StatementCoverage != nil {
		ctx.HasCoverage = true
		ctx.OwnerCoveragePct = latest.StatementCoverage
	}

	if counts := b.repos[ownerID]; counts != nil {
		ctx.TotalRepos = counts.total
		ctx.ScheduledRepos = counts.scheduled
		ctx.UnscheduledRepos = counts.total - counts.scheduled
	}

	var neediest *storage.Coverage
	for _, c := range b.repoCoverage[ownerID] {
		if c.StatementCoverage != nil {
			ctx.ReposWithCoverage++
		}
		if c.LinesTotal <= 0 {
			continue
		}
		if neediest == nil || c.LinesTotal-c.LinesCovered > neediest.LinesTotal-neediest.LinesCovered {
			neediest = c
		}
	}
	if neediest != nil {
		ctx.NeediestRepo = neediest.RepoName
		ctx.NeediestRepoPct = neediest.StatementCoverage
		ctx.NeediestRepoUncovered = neediest.LinesTotal - neediest.LinesCovered
		if neediest.StatementCoverage != nil {
			ctx.Benchmark = FindBenchmark(ownerID, neediest.LinesTotal, *neediest.StatementCoverage, b.benchmarkPool)
		}
	}

	if summary := b.usage[ownerID]; summary != nil {
		for _, key := range summary.setupKeys {
			state := summary.setup[key]
			ctx.HasSetupPR = true
			if state.merged {
				ctx.HasSetupPRMerged = true
				continue
			}
			ctx.OpenSetupPRs = append(ctx.OpenSetupPRs, SetupPR{RepoName: state.pr.RepoName, PRNumber: state.pr.PRNumber})
		}
		for _, key := range summary.prKeys {
			state := summary.prs[key]
			ctx.HasPRs = true
			ctx.PRCount++
			if state.merged {
				ctx.HasMergedPR = true
				ctx.MergedPRCount++
				continue
			}
			ctx.OpenPRs = append(ctx.OpenPRs, state.pr)
		}
	}

	return ctx
}
