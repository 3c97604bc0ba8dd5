// Package app wires the drip engine from environment variables.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"

	"github.com/gitauto-ai/drip/config"
	"github.com/gitauto-ai/drip/drip"
	"github.com/gitauto-ai/drip/email"
	"github.com/gitauto-ai/drip/github"
	"github.com/gitauto-ai/drip/notify"
	"github.com/gitauto-ai/drip/storage/postgres"
)

// Env holds credentials and endpoints read from the environment.
type Env struct {
	DatabaseURL          string `envconfig:"DATABASE_URL" required:"true"`
	ResendAPIKey         string `envconfig:"RESEND_API_KEY"`
	SlackBotToken        string `envconfig:"SLACK_BOT_TOKEN"`
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubPrivateKey     string `envconfig:"GITHUB_PRIVATE_KEY"`
	GmailCredentialsJSON string `envconfig:"GMAIL_CREDENTIALS_JSON"`
	GmailMailbox         string `envconfig:"GMAIL_MAILBOX"`
	ConfigPath           string `envconfig:"CONFIG_PATH" default:"drip.yaml"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &env, nil
}

// App is a wired engine and the resources it owns.
type App struct {
	Config *config.Config
	Store  *postgres.PostgreSQL
	Engine *drip.Engine
}

// Close releases the database connection.
func (a *App) Close() error {
	return a.Store.Close()
}

// New connects to the database and builds the engine. Live runs need a
// Resend key; dry runs need Gmail credentials. GitHub and Slack are optional.
func New(ctx context.Context, env *Env, logger *slog.Logger) (*App, error) {
	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		return nil, err
	}

	var sender email.Sender
	if env.ResendAPIKey != "" {
		sender = email.NewResendSender(env.ResendAPIKey, cfg.FromAddress, cfg.ReplyTo)
	} else if !cfg.DryRun {
		return nil, fmt.Errorf("RESEND_API_KEY is required when dry_run is off")
	}

	var drafter email.Drafter
	if env.GmailCredentialsJSON != "" {
		d, err := email.NewGmailDrafter(ctx, []byte(env.GmailCredentialsJSON), env.GmailMailbox, cfg.FromAddress)
		if err != nil {
			return nil, err
		}
		drafter = d
	} else if cfg.DryRun {
		return nil, fmt.Errorf("GMAIL_CREDENTIALS_JSON is required when dry_run is on")
	}

	var prChecker drip.PRChecker
	if env.GitHubAppID != 0 && env.GitHubPrivateKey != "" {
		prChecker = github.NewClient(env.GitHubAppID, []byte(env.GitHubPrivateKey))
	} else {
		logger.Warn("GitHub App not configured, setup PRs will not be rechecked")
	}

	var notifier notify.Notifier = notify.Noop{}
	if env.SlackBotToken != "" {
		notifier = notify.NewSlack(env.SlackBotToken, cfg.SlackChannel)
	}

	store, err := postgres.NewFromDSN(env.DatabaseURL)
	if err != nil {
		return nil, err
	}

	logger.Info("initialized",
		"dry_run", cfg.DryRun,
		"daily_send_limit", cfg.DailySendLimit,
		"github", prChecker != nil,
		"slack", env.SlackBotToken != "",
	)

	return &App{
		Config: cfg,
		Store:  store,
		Engine: drip.NewEngine(store, sender, drafter, prChecker, notifier, cfg, logger),
	}, nil
}
