// Package storage defines the storage interface for the drip email engine.
package storage

import (
	"context"
	"time"
)

// Storage defines the reads and writes the drip email engine needs.
// Implementations must be safe for concurrent use by multiple goroutines,
// since batch reads are issued in parallel.
type Storage interface {
	// Installation operations
	ListInstallations(ctx context.Context, limit, offset int) ([]*Installation, error)
	ListUninstalledInstallations(ctx context.Context) ([]*Installation, error)
	ListSubscribedInstallations(ctx context.Context) ([]*Installation, error)

	// Batch reads keyed by owner
	GetOwners(ctx context.Context, ownerIDs []int64) ([]*Owner, error)
	GetSentEmailTypes(ctx context.Context, ownerIDs []int64) (map[int64][]string, error)
	GetRepositories(ctx context.Context, ownerIDs []int64) ([]*Repository, error)
	GetPurchaseOwnerIDs(ctx context.Context, ownerIDs []int64) ([]int64, error)
	GetUsage(ctx context.Context, ownerIDs []int64) ([]*Usage, error)
	// Coverage reads return rows newest first.
	GetOwnerCoverage(ctx context.Context, ownerIDs []int64) ([]*Coverage, error)
	GetRepoCoverage(ctx context.Context, ownerIDs []int64) ([]*Coverage, error)
	GetAllRepoCoverage(ctx context.Context) ([]*Coverage, error)

	// Batch reads that depend on owner rows
	GetUsers(ctx context.Context, userIDs []int64) ([]*User, error)
	GetSubscriptions(ctx context.Context, customerIDs []string) ([]*Subscription, error)
	GetRepliedUserIDs(ctx context.Context, userIDs []int64) ([]int64, error)

	// Ledger and credit writes
	InsertEmailSend(ctx context.Context, send *EmailSend) error
	CountEmailSendsSince(ctx context.Context, since time.Time) (int, error)
	GrantCredit(ctx context.Context, grant *CreditGrant) error
}
