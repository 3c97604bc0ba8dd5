package drip

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gitauto-ai/drip/storage"
)

// Batch holds everything read for one page of owners.
type Batch struct {
	Owners           []*storage.Owner
	SentEmails       map[int64][]string
	Repositories     []*storage.Repository
	PurchaseOwnerIDs []int64
	Usage            []*storage.Usage
	OwnerCoverage    []*storage.Coverage
	RepoCoverage     []*storage.Coverage
	AllRepoCoverage  []*storage.Coverage

	// Read in the second round, from ids found in Owners.
	Users          []*storage.User
	Subscriptions  []*storage.Subscription
	RepliedUserIDs []int64
}

// FetchBatch reads the batch for ownerIDs in two concurrent rounds. The
// second round needs user and customer ids taken from the first round's
// owner rows. Any failed read fails the whole batch.
func FetchBatch(ctx context.Context, store storage.Storage, ownerIDs []int64) (*Batch, error) {
	batch := &Batch{}

	// Round 1: reads keyed by owner id. Each goroutine owns one field.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		batch.Owners, err = store.GetOwners(gctx, ownerIDs)
		return err
	})
	g.Go(func() (err error) {
		batch.SentEmails, err = store.GetSentEmailTypes(gctx, ownerIDs)
		return err
	})
	g.Go(func() (err error) {
		batch.Repositories, err = store.GetRepositories(gctx, ownerIDs)
		return err
	})
	g.Go(func() (err error) {
		batch.PurchaseOwnerIDs, err = store.GetPurchaseOwnerIDs(gctx, ownerIDs)
		return err
	})
	g.Go(func() (err error) {
		batch.Usage, err = store.GetUsage(gctx, ownerIDs)
		return err
	})
	g.Go(func() (err error) {
		batch.OwnerCoverage, err = store.GetOwnerCoverage(gctx, ownerIDs)
		return err
	})
	g.Go(func() (err error) {
		batch.RepoCoverage, err = store.GetRepoCoverage(gctx, ownerIDs)
		return err
	})
	g.Go(func() (err error) {
		batch.AllRepoCoverage, err = store.GetAllRepoCoverage(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch owner data: %w", err)
	}

	userIDs, customerIDs := referencedIDs(batch.Owners)

	// Round 2: reads keyed by ids found in round 1.
	g, gctx = errgroup.WithContext(ctx)
	if len(userIDs) > 0 {
		g.Go(func() (err error) {
			batch.Users, err = store.GetUsers(gctx, userIDs)
			return err
		})
		g.Go(func() (err error) {
			batch.RepliedUserIDs, err = store.GetRepliedUserIDs(gctx, userIDs)
			return err
		})
	}
	if len(customerIDs) > 0 {
		g.Go(func() (err error) {
			batch.Subscriptions, err = store.GetSubscriptions(gctx, customerIDs)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch user data: %w", err)
	}

	return batch, nil
}

// referencedIDs returns the distinct creator user ids and payment customer ids of owners.
func referencedIDs(owners []*storage.Owner) ([]int64, []string) {
	var userIDs []int64
	var customerIDs []string
	seenUsers := make(map[int64]bool)
	seenCustomers := make(map[string]bool)

	for _, owner := range owners {
		if id, _, ok := ParseCreatedBy(owner.CreatedBy); ok && !seenUsers[id] {
			seenUsers[id] = true
			userIDs = append(userIDs, id)
		}
		if c := owner.StripeCustomerID; c != "" && !seenCustomers[c] {
			seenCustomers[c] = true
			customerIDs = append(customerIDs, c)
		}
	}

	return userIDs, customerIDs
}
