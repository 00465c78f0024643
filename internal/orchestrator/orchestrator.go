// Package orchestrator wires every collaborator together: it loads
// secrets, resolves the mailbox list, spawns one supervised watcher per
// mailbox, and runs the retry worker in the foreground.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseywylie/y2g/internal/adminhttp"
	"github.com/caseywylie/y2g/internal/alert"
	"github.com/caseywylie/y2g/internal/config"
	"github.com/caseywylie/y2g/internal/credential"
	"github.com/caseywylie/y2g/internal/destination"
	"github.com/caseywylie/y2g/internal/imapsource"
	"github.com/caseywylie/y2g/internal/labels"
	"github.com/caseywylie/y2g/internal/pipeline"
	"github.com/caseywylie/y2g/internal/retryworker"
	"github.com/caseywylie/y2g/internal/secretbox"
	"github.com/caseywylie/y2g/internal/store"
	"golang.org/x/oauth2"
)

const yahooAppPasswordSecretKey = "yahoo_app_password"

// Run executes the whole process lifecycle until ctx is cancelled: open
// the database, apply migrations, resolve credentials and mailboxes, spawn
// watchers, and block on the retry worker.
func Run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("starting y2g", "event", "startup")

	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	masterKey, err := secretbox.LoadMasterKey(cfg.AppMasterKey)
	if err != nil {
		return fmt.Errorf("load master key: %w", err)
	}
	seal := secretbox.Sealer{Key: masterKey}

	appPassword, err := loadOrStoreAppPassword(st, seal, cfg.YahooAppPassword)
	if err != nil {
		return fmt.Errorf("resolve yahoo app password: %w", err)
	}

	accountID, err := st.EnsureAccount(cfg.YahooEmail, "me")
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}

	broker := credential.New(st, seal, credential.Config{
		ClientID:     cfg.GmailOAuthClientID,
		ClientSecret: cfg.GmailOAuthClientSecret,
		RedirectURI:  cfg.GmailOAuthRedirectURI,
	})

	notifier := alert.NewPushoverNotifier(cfg.PushoverAPIToken, cfg.PushoverUserKey)
	alertManager := alert.New(st, notifier, cfg.PushoverEnabled, time.Duration(cfg.PushoverCooldownMinutes)*time.Minute)

	if cfg.AdminEnabled {
		admin, err := adminhttp.New(adminhttp.Config{
			Host:     cfg.AdminHost,
			Port:     cfg.AdminPort,
			Username: cfg.AdminUsername,
			Password: cfg.AdminPassword,
		}, st, broker)
		if err != nil {
			return fmt.Errorf("build admin http server: %w", err)
		}
		go func() {
			if err := admin.Start(ctx); err != nil {
				log.Error("admin http server exited", "error", err)
			}
		}()
	}

	dial := func() (*imapsource.Source, error) {
		return imapsource.Connect(imapsource.Config{
			Host:     cfg.YahooIMAPHost,
			Port:     cfg.YahooIMAPPort,
			Username: cfg.YahooEmail,
			Password: appPassword,
		})
	}

	ts, err := waitForCredential(ctx, broker, alertManager, cfg, log)
	if err != nil {
		return err
	}

	dest, err := destination.NewClient(ctx, ts)
	if err != nil {
		return fmt.Errorf("build destination client: %w", err)
	}

	labelResolver := labels.New(st, dest, accountID)
	if cfg.GmailLabel != "" {
		if _, err := labelResolver.ResolveLabelIDs(ctx, pipeline.LabelPlan{CustomLabel: cfg.GmailLabel}); err != nil {
			return fmt.Errorf("prime custom label cache: %w", err)
		}
	}
	if _, err := labelResolver.ResolveLabelIDs(ctx, pipeline.LabelPlan{IncludeInbox: true, IncludeUnread: true}); err != nil {
		return fmt.Errorf("prime system label cache: %w", err)
	}

	mailboxes, err := resolveMailboxes(cfg, dial)
	if err != nil {
		return fmt.Errorf("resolve mailboxes: %w", err)
	}
	log.Info("watching mailboxes", "event", "mailboxes", "mailboxes", mailboxes)

	for _, mailbox := range mailboxes {
		go superviseWatcher(ctx, accountID, mailbox, st, dial, log)
	}

	worker := retryworker.New(st, broker, dial, labelResolver, alertManager, retryworker.Config{
		CustomLabel:    cfg.GmailLabel,
		DeliverToInbox: cfg.DeliverToInbox,
	}, log)
	return worker.Run(ctx)
}

// loadOrStoreAppPassword returns the stored Yahoo app password, seeding it
// from env on first run, matching the original's load_or_store semantics.
func loadOrStoreAppPassword(st *store.Store, seal secretbox.Sealer, envPassword string) (string, error) {
	ciphertext, ok, err := st.GetSecret(yahooAppPasswordSecretKey)
	if err != nil {
		return "", err
	}
	if ok {
		plaintext, err := seal.Open(ciphertext)
		if err != nil {
			return "", fmt.Errorf("decrypt stored app password: %w", err)
		}
		return string(plaintext), nil
	}
	if envPassword == "" {
		return "", fmt.Errorf("YAHOO_APP_PASSWORD not provided and no stored secret found")
	}
	sealed, err := seal.Seal([]byte(envPassword))
	if err != nil {
		return "", fmt.Errorf("seal app password: %w", err)
	}
	if err := st.PutSecret(yahooAppPasswordSecretKey, sealed); err != nil {
		return "", err
	}
	return envPassword, nil
}

// waitForCredential resolves the destination token source. If the broker
// reports no usable credential, it logs and sends one "oauth_missing" alert.
// When the admin surface is enabled it then blocks (re-checking every 60s)
// instead of exiting, so an operator has time to paste an authorization
// code through the admin surface; otherwise it returns an error.
func waitForCredential(ctx context.Context, broker *credential.Broker, alertManager *alert.Manager, cfg config.Config, log *slog.Logger) (oauth2.TokenSource, error) {
	ts, err := broker.TokenSource(ctx)
	if err == nil {
		return ts, nil
	}

	authURL := broker.AuthorizationURL()
	log.Warn("destination oauth tokens missing", "event", "oauth_missing", "auth_url", authURL)
	_ = alertManager.Send("oauth_missing", "Gmail OAuth tokens missing",
		fmt.Sprintf("Tokens missing. Re-authorize via admin UI. Auth URL: %s", authURL))

	if !cfg.AdminEnabled {
		return nil, fmt.Errorf("destination credential unavailable and admin surface disabled: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(60 * time.Second):
		}
		if ts, err := broker.TokenSource(ctx); err == nil {
			return ts, nil
		}
	}
}
