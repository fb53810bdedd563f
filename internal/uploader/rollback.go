package uploader

import (
	"context"
)

// OwnerStore is the hook-bypassing persistence boundary the rollback engine
// needs from the owner side: a direct row delete and a quiet attribute
// restore, neither of which may re-trigger entity lifecycle hooks.
type OwnerStore interface {
	DeleteQuietly(ctx context.Context, table, keyColumn, key string) error
	Restore(ctx context.Context, table, keyColumn, key string, attrs map[string]any) error
}

// Rollback reverses effects on the owner entity after an upload failure.
// Whether the owner was newly created or updated is taken from
// opts.OwnerState; the engine has no way to derive it once the surrounding
// transaction has rolled back.
type Rollback struct {
	owners OwnerStore
}

func NewRollback(owners OwnerStore) *Rollback {
	return &Rollback{owners: owners}
}

// Handle applies the configured rollback policy. Policy conditions not
// being met is a silent no-op, never an error; a failing restore or delete
// propagates.
func (r *Rollback) Handle(ctx context.Context, owner Owner, opts Options, forcedDelete bool) error {
	if r.owners == nil {
		return nil
	}

	if opts.OwnerState == OwnerCreated {
		return r.deleteOwner(ctx, owner, opts, forcedDelete)
	}
	return r.restoreOwner(ctx, owner, opts)
}

func (r *Rollback) deleteOwner(ctx context.Context, owner Owner, opts Options, forcedDelete bool) error {
	queued := opts.queued()

	if (queued && opts.DeleteModelOnQueueUploadFail) ||
		(!queued && opts.DeleteModelOnUploadFail) ||
		forcedDelete {
		return r.owners.DeleteQuietly(ctx, owner.OwnerType(), keyColumn(owner), owner.OwnerKey())
	}
	return nil
}

func (r *Rollback) restoreOwner(ctx context.Context, owner Owner, opts Options) error {
	if len(opts.OriginalAttributes) == 0 {
		return nil
	}

	queued := opts.queued()

	if (queued && opts.RollbackModelOnQueueUploadFail) ||
		(!queued && opts.RollbackModelOnUploadFail) {
		return r.owners.Restore(ctx, owner.OwnerType(), keyColumn(owner), owner.OwnerKey(), opts.OriginalAttributes)
	}
	return nil
}
