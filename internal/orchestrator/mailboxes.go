package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseywylie/y2g/internal/config"
	"github.com/caseywylie/y2g/internal/discovery"
	"github.com/caseywylie/y2g/internal/watcher"
)

// resolveMailboxes returns cfg.WatchMailboxes if the operator named any
// explicitly, otherwise connects once, lists every mailbox, and filters
// them with internal/discovery.
func resolveMailboxes(cfg config.Config, dial watcher.SourceFactory) ([]string, error) {
	if len(cfg.WatchMailboxes) > 0 {
		return cfg.WatchMailboxes, nil
	}

	src, err := dial()
	if err != nil {
		return nil, fmt.Errorf("connect to list mailboxes: %w", err)
	}
	defer func() { _ = src.Close() }()

	all, err := src.ListMailboxes()
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	return discovery.Mailboxes(all), nil
}

// superviseWatcher runs a watcher.Watcher and restarts it after a 5s delay
// whenever it exits for any reason other than ctx cancellation.
func superviseWatcher(ctx context.Context, accountID int64, mailbox string, st watcher.Store, dial watcher.SourceFactory, log *slog.Logger) {
	for {
		w := watcher.New(accountID, mailbox, st, dial, watcher.Config{}, log)
		err := w.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Error("watcher exited, restarting", "mailbox", mailbox, "error", err)

		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}
