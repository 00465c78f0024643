// Package labels resolves a pipeline.LabelPlan into concrete Gmail label
// ids, caching the custom label's id in the state store and the INBOX/
// UNREAD system label ids in memory for the life of the process.
package labels

import (
	"context"
	"fmt"
	"sync"

	"github.com/caseywylie/y2g/internal/destination"
	"github.com/caseywylie/y2g/internal/pipeline"
)

// Store is the subset of internal/store.Store the resolver depends on.
type Store interface {
	LabelID(accountID int64, name string) (labelID string, ok bool, err error)
	PutLabelID(accountID int64, name, labelID string) error
}

// Resolver implements retryworker.LabelResolver.
type Resolver struct {
	store     Store
	dest      *destination.Client
	accountID int64

	mu      sync.Mutex
	system  map[string]string // name -> id, resolved once per process
}

// New builds a Resolver bound to one account's label cache.
func New(store Store, dest *destination.Client, accountID int64) *Resolver {
	return &Resolver{store: store, dest: dest, accountID: accountID}
}

// ResolveLabelIDs turns plan into the Gmail label ids to apply to an
// imported message: the custom label (created/cached on first use),
// INBOX when the plan calls for it, and UNREAD when the plan calls for
// it.
func (r *Resolver) ResolveLabelIDs(ctx context.Context, plan pipeline.LabelPlan) ([]string, error) {
	var ids []string

	if plan.CustomLabel != "" {
		id, err := r.customLabelID(ctx, plan.CustomLabel)
		if err != nil {
			return nil, fmt.Errorf("resolve custom label %s: %w", plan.CustomLabel, err)
		}
		ids = append(ids, id)
	}

	if plan.IncludeInbox {
		id, err := r.systemLabelID(ctx, "INBOX")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if plan.IncludeUnread {
		id, err := r.systemLabelID(ctx, "UNREAD")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func (r *Resolver) customLabelID(ctx context.Context, name string) (string, error) {
	if id, ok, err := r.store.LabelID(r.accountID, name); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}

	id, err := r.dest.EnsureLabel(ctx, name)
	if err != nil {
		return "", err
	}
	if err := r.store.PutLabelID(r.accountID, name, id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Resolver) systemLabelID(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	if id, ok := r.system[name]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	resolved, err := r.dest.SystemLabelIDs(ctx, []string{"INBOX", "UNREAD"})
	if err != nil {
		return "", fmt.Errorf("resolve system labels: %w", err)
	}

	r.mu.Lock()
	r.system = resolved
	r.mu.Unlock()

	id, ok := resolved[name]
	if !ok {
		return "", fmt.Errorf("system label %s not found", name)
	}
	return id, nil
}
