package storage

import "time"

// Usage trigger that marks the coverage setup PR opened right after install.
const TriggerSetup = "setup"

// Credit transaction types.
const (
	CreditPurchase   = "purchase"
	CreditAutoReload = "auto_reload"
	CreditSalvage    = "salvage"
)

// Owner is a GitAuto account (user or organization).
type Owner struct {
	OwnerID   int64
	OwnerName string
	// CreatedBy is encoded as "userId:userName".
	CreatedBy         string
	CreditBalanceUSD  *float64
	StripeCustomerID  string
	AutoReloadEnabled bool
}

// Installation links an owner to the GitHub App.
type Installation struct {
	InstallationID int64
	OwnerID        int64
	OwnerName      string
	CreatedAt      time.Time
	UninstalledAt  *time.Time
}

// User is the human behind one or more owners.
type User struct {
	UserID              int64
	UserName            string
	Email               string // empty for bots and unverified users
	DisplayName         string
	DisplayNameOverride string
}

// Repository is a repository belonging to an owner.
type Repository struct {
	OwnerID           int64
	RepoName          string
	TriggerOnSchedule bool
}

// Usage is one PR or test generation event.
type Usage struct {
	OwnerID   int64
	OwnerName string
	RepoName  string
	PRNumber  int // 0 when the event has no PR
	Trigger   string
	IsMerged  bool
}

// Coverage is an owner-level (RepoName empty) or repo-level coverage snapshot.
type Coverage struct {
	OwnerID           int64
	RepoName          string
	LinesTotal        int
	LinesCovered      int
	StatementCoverage *float64
	CreatedAt         time.Time
}

// Subscription mirrors a payment provider subscription for a customer.
type Subscription struct {
	CustomerID string
	Status     string
	CanceledAt *time.Time
}

// IsActive reports whether the subscription currently entitles the customer.
func (s Subscription) IsActive() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// EmailSend is one row of the drip email idempotency ledger.
type EmailSend struct {
	OwnerID       int64
	OwnerName     string
	EmailType     string
	ResendEmailID string
	// Backfilled rows mark lower coverage milestones that were never mailed.
	Backfilled bool
}

// CreditGrant adds credits to an owner's balance.
type CreditGrant struct {
	OwnerID         int64
	AmountUSD       float64
	TransactionType string
	ExpiresAt       time.Time
}
