// Package postgres provides a PostgreSQL implementation of the storage interface.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/gitauto-ai/drip/storage"
)

// PostgreSQL provides storage operations using PostgreSQL.
type PostgreSQL struct {
	db *sql.DB
}

// New creates a new PostgreSQL storage instance.
func New(db *sql.DB) *PostgreSQL {
	return &PostgreSQL{db: db}
}

// NewFromDSN creates a new PostgreSQL storage instance from a connection string.
func NewFromDSN(dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PostgreSQL{db: db}, nil
}

// Close closes the database connection.
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}

// Migrate creates the tables read and written by the drip engine.
func (p *PostgreSQL) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS owners (
			owner_id BIGINT PRIMARY KEY,
			owner_name TEXT NOT NULL,
			created_by TEXT,
			credit_balance_usd NUMERIC,
			stripe_customer_id TEXT,
			auto_reload_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS installations (
			installation_id BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			owner_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			uninstalled_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS users (
			user_id BIGINT PRIMARY KEY,
			user_name TEXT NOT NULL,
			email TEXT,
			display_name TEXT,
			display_name_override TEXT
		);

		CREATE TABLE IF NOT EXISTS repositories (
			owner_id BIGINT NOT NULL,
			repo_name TEXT NOT NULL,
			trigger_on_schedule BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (owner_id, repo_name)
		);

		CREATE TABLE IF NOT EXISTS usage (
			id SERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			owner_name TEXT NOT NULL,
			repo_name TEXT NOT NULL,
			pr_number INTEGER,
			trigger TEXT NOT NULL,
			is_merged BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS owner_coverages (
			id SERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			lines_total INTEGER NOT NULL DEFAULT 0,
			lines_covered INTEGER NOT NULL DEFAULT 0,
			statement_coverage DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS repo_coverages (
			id SERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			repo_name TEXT NOT NULL,
			lines_total INTEGER NOT NULL DEFAULT 0,
			lines_covered INTEGER NOT NULL DEFAULT 0,
			statement_coverage DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS credits (
			id SERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			amount_usd NUMERIC NOT NULL,
			transaction_type TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			subscription_id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			status TEXT NOT NULL,
			canceled_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS email_sends (
			id SERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			owner_name TEXT NOT NULL,
			email_type TEXT NOT NULL,
			resend_email_id TEXT,
			backfilled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(owner_id, email_type)
		);

		CREATE TABLE IF NOT EXISTS email_replies (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_usage_owner ON usage(owner_id);
		CREATE INDEX IF NOT EXISTS idx_owner_coverages_owner ON owner_coverages(owner_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_repo_coverages_owner ON repo_coverages(owner_id, repo_name, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_customer ON subscriptions(customer_id);
		CREATE INDEX IF NOT EXISTS idx_email_replies_user ON email_replies(user_id);
	`

	_, err := p.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const installationColumns = `installation_id, owner_id, owner_name, created_at, uninstalled_at`

// ListInstallations returns a page of active installations, oldest first.
func (p *PostgreSQL) ListInstallations(ctx context.Context, limit, offset int) ([]*storage.Installation, error) {
	query := `
		SELECT ` + installationColumns + `
		FROM installations
		WHERE uninstalled_at IS NULL
		ORDER BY created_at ASC, installation_id ASC
		LIMIT $1 OFFSET $2
	`
	return p.queryInstallations(ctx, "list installations", query, limit, offset)
}

// ListUninstalledInstallations returns every installation that has been removed.
func (p *PostgreSQL) ListUninstalledInstallations(ctx context.Context) ([]*storage.Installation, error) {
	query := `
		SELECT ` + installationColumns + `
		FROM installations
		WHERE uninstalled_at IS NOT NULL
		ORDER BY uninstalled_at DESC
	`
	return p.queryInstallations(ctx, "list uninstalled installations", query)
}

// ListSubscribedInstallations returns active installations whose owner has
// had a subscription at any point.
func (p *PostgreSQL) ListSubscribedInstallations(ctx context.Context) ([]*storage.Installation, error) {
	query := `
		SELECT i.installation_id, i.owner_id, i.owner_name, i.created_at, i.uninstalled_at
		FROM installations i
		JOIN owners o ON o.owner_id = i.owner_id
		WHERE i.uninstalled_at IS NULL
		  AND EXISTS (SELECT 1 FROM subscriptions s WHERE s.customer_id = o.stripe_customer_id)
		ORDER BY i.created_at ASC
	`
	return p.queryInstallations(ctx, "list subscribed installations", query)
}

func (p *PostgreSQL) queryInstallations(ctx context.Context, op, query string, args ...any) ([]*storage.Installation, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var installs []*storage.Installation
	for rows.Next() {
		var install storage.Installation
		var uninstalledAt sql.NullTime
		if err := rows.Scan(
			&install.InstallationID,
			&install.OwnerID,
			&install.OwnerName,
			&install.CreatedAt,
			&uninstalledAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan installation: %w", err)
		}
		if uninstalledAt.Valid {
			t := uninstalledAt.Time
			install.UninstalledAt = &t
		}
		installs = append(installs, &install)
	}

	return installs, rows.Err()
}

// GetOwners retrieves owners by id.
func (p *PostgreSQL) GetOwners(ctx context.Context, ownerIDs []int64) ([]*storage.Owner, error) {
	query := `
		SELECT owner_id, owner_name, created_by, credit_balance_usd, stripe_customer_id, auto_reload_enabled
		FROM owners
		WHERE owner_id = ANY($1)
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(ownerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get owners: %w", err)
	}
	defer rows.Close()

	var owners []*storage.Owner
	for rows.Next() {
		var owner storage.Owner
		var createdBy, customerID sql.NullString
		var balance sql.NullFloat64
		if err := rows.Scan(
			&owner.OwnerID,
			&owner.OwnerName,
			&createdBy,
			&balance,
			&customerID,
			&owner.AutoReloadEnabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owner.CreatedBy = createdBy.String
		owner.StripeCustomerID = customerID.String
		if balance.Valid {
			b := balance.Float64
			owner.CreditBalanceUSD = &b
		}
		owners = append(owners, &owner)
	}

	return owners, rows.Err()
}

// GetSentEmailTypes returns the ledger's email types per owner.
func (p *PostgreSQL) GetSentEmailTypes(ctx context.Context, ownerIDs []int64) (map[int64][]string, error) {
	query := `
		SELECT owner_id, email_type
		FROM email_sends
		WHERE owner_id = ANY($1)
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(ownerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get sent emails: %w", err)
	}
	defer rows.Close()

	sent := make(map[int64][]string)
	for rows.Next() {
		var ownerID int64
		var emailType string
		if err := rows.Scan(&ownerID, &emailType); err != nil {
			return nil, fmt.Errorf("failed to scan email send: %w", err)
		}
		sent[ownerID] = append(sent[ownerID], emailType)
	}

	return sent, rows.Err()
}

// GetRepositories retrieves repositories for the given owners.
func (p *PostgreSQL) GetRepositories(ctx context.Context, ownerIDs []int64) ([]*storage.Repository, error) {
	query := `
		SELECT owner_id, repo_name, trigger_on_schedule
		FROM repositories
		WHERE owner_id = ANY($1)
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(ownerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get repositories: %w", err)
	}
	defer rows.Close()

	var repos []*storage.Repository
	for rows.Next() {
		var repo storage.Repository
		if err := rows.Scan(&repo.OwnerID, &repo.RepoName, &repo.TriggerOnSchedule); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, &repo)
	}

	return repos, rows.Err()
}

// GetPurchaseOwnerIDs returns the owners that ever bought credits or had them auto-reloaded.
func (p *PostgreSQL) GetPurchaseOwnerIDs(ctx context.Context, ownerIDs []int64) ([]int64, error) {
	query := `
		SELECT DISTINCT owner_id
		FROM credits
		WHERE owner_id = ANY($1) AND transaction_type = ANY($2)
	`

	rows, err := p.db.QueryContext(ctx, query,
		pq.Array(ownerIDs),
		pq.Array([]string{storage.CreditPurchase, storage.CreditAutoReload}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get purchases: %w", err)
	}
	defer rows.Close()

	return scanInt64s(rows)
}

// GetUsage retrieves usage rows for the given owners.
func (p *PostgreSQL) GetUsage(ctx context.Context, ownerIDs []int64) ([]*storage.Usage, error) {
	query := `
		SELECT owner_id, owner_name, repo_name, pr_number, trigger, is_merged
		FROM usage
		WHERE owner_id = ANY($1)
		ORDER BY created_at DESC
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(ownerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	defer rows.Close()

	var usage []*storage.Usage
	for rows.Next() {
		var u storage.Usage
		var prNumber sql.NullInt64
		if err := rows.Scan(&u.OwnerID, &u.OwnerName, &u.RepoName, &prNumber, &u.Trigger, &u.IsMerged); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		u.PRNumber = int(prNumber.Int64)
		usage = append(usage, &u)
	}

	return usage, rows.Err()
}

// GetOwnerCoverage returns owner-level coverage rows, newest first.
func (p *PostgreSQL) GetOwnerCoverage(ctx context.Context, ownerIDs []int64) ([]*storage.Coverage, error) {
	query := `
		SELECT owner_id, '' AS repo_name, lines_total, lines_covered, statement_coverage, created_at
		FROM owner_coverages
		WHERE owner_id = ANY($1)
		ORDER BY created_at DESC
	`
	return p.queryCoverage(ctx, "get owner coverage", query, pq.Array(ownerIDs))
}

// GetRepoCoverage returns repo-level coverage rows, newest first.
func (p *PostgreSQL) GetRepoCoverage(ctx context.Context, ownerIDs []int64) ([]*storage.Coverage, error) {
	query := `
		SELECT owner_id, repo_name, lines_total, lines_covered, statement_coverage, created_at
		FROM repo_coverages
		WHERE owner_id = ANY($1)
		ORDER BY created_at DESC
	`
	return p.queryCoverage(ctx, "get repo coverage", query, pq.Array(ownerIDs))
}

// GetAllRepoCoverage returns repo-level coverage rows across all owners, newest first.
func (p *PostgreSQL) GetAllRepoCoverage(ctx context.Context) ([]*storage.Coverage, error) {
	query := `
		SELECT owner_id, repo_name, lines_total, lines_covered, statement_coverage, created_at
		FROM repo_coverages
		ORDER BY created_at DESC
	`
	return p.queryCoverage(ctx, "get all repo coverage", query)
}

func (p *PostgreSQL) queryCoverage(ctx context.Context, op, query string, args ...any) ([]*storage.Coverage, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var coverage []*storage.Coverage
	for rows.Next() {
		var c storage.Coverage
		var pct sql.NullFloat64
		if err := rows.Scan(&c.OwnerID, &c.RepoName, &c.LinesTotal, &c.LinesCovered, &pct, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan coverage: %w", err)
		}
		if pct.Valid {
			v := pct.Float64
			c.StatementCoverage = &v
		}
		coverage = append(coverage, &c)
	}

	return coverage, rows.Err()
}

// GetUsers retrieves users by id.
func (p *PostgreSQL) GetUsers(ctx context.Context, userIDs []int64) ([]*storage.User, error) {
	query := `
		SELECT user_id, user_name, email, display_name, display_name_override
		FROM users
		WHERE user_id = ANY($1)
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	var users []*storage.User
	for rows.Next() {
		var user storage.User
		var email, displayName, override sql.NullString
		if err := rows.Scan(&user.UserID, &user.UserName, &email, &displayName, &override); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.Email = email.String
		user.DisplayName = displayName.String
		user.DisplayNameOverride = override.String
		users = append(users, &user)
	}

	return users, rows.Err()
}

// GetSubscriptions returns every subscription, past or present, for the given customers.
func (p *PostgreSQL) GetSubscriptions(ctx context.Context, customerIDs []string) ([]*storage.Subscription, error) {
	query := `
		SELECT customer_id, status, canceled_at
		FROM subscriptions
		WHERE customer_id = ANY($1)
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(customerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*storage.Subscription
	for rows.Next() {
		var sub storage.Subscription
		var canceledAt sql.NullTime
		if err := rows.Scan(&sub.CustomerID, &sub.Status, &canceledAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		if canceledAt.Valid {
			t := canceledAt.Time
			sub.CanceledAt = &t
		}
		subs = append(subs, &sub)
	}

	return subs, rows.Err()
}

// GetRepliedUserIDs returns the users that replied to any drip email.
func (p *PostgreSQL) GetRepliedUserIDs(ctx context.Context, userIDs []int64) ([]int64, error) {
	query := `
		SELECT DISTINCT user_id
		FROM email_replies
		WHERE user_id = ANY($1)
	`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get email replies: %w", err)
	}
	defer rows.Close()

	return scanInt64s(rows)
}

// InsertEmailSend records a sent (or backfilled) email in the ledger.
func (p *PostgreSQL) InsertEmailSend(ctx context.Context, send *storage.EmailSend) error {
	query := `
		INSERT INTO email_sends (owner_id, owner_name, email_type, resend_email_id, backfilled, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (owner_id, email_type) DO NOTHING
	`

	var resendID sql.NullString
	if send.ResendEmailID != "" {
		resendID = sql.NullString{String: send.ResendEmailID, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, query,
		send.OwnerID,
		send.OwnerName,
		send.EmailType,
		resendID,
		send.Backfilled,
	)
	if err != nil {
		return fmt.Errorf("failed to insert email send: %w", err)
	}

	return nil
}

// CountEmailSendsSince counts emails actually sent (not backfilled) since the given time.
func (p *PostgreSQL) CountEmailSendsSince(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM email_sends
		WHERE created_at >= $1 AND NOT backfilled
	`

	var count int
	if err := p.db.QueryRowContext(ctx, query, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count email sends: %w", err)
	}

	return count, nil
}

// GrantCredit inserts a credit transaction and adds it to the owner's balance.
func (p *PostgreSQL) GrantCredit(ctx context.Context, grant *storage.CreditGrant) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credits (owner_id, amount_usd, transaction_type, expires_at)
		VALUES ($1, $2, $3, $4)
	`, grant.OwnerID, grant.AmountUSD, grant.TransactionType, grant.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert credit: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE owners
		SET credit_balance_usd = COALESCE(credit_balance_usd, 0) + $2
		WHERE owner_id = $1
	`, grant.OwnerID, grant.AmountUSD)
	if err != nil {
		return fmt.Errorf("failed to update credit balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credit grant: %w", err)
	}

	return nil
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Verify PostgreSQL implements Storage at compile time.
var _ storage.Storage = (*PostgreSQL)(nil)
