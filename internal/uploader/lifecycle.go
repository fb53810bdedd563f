package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Dispatcher hands a batch off to a background queue. Implementations must
// stage live file handles somewhere durable before returning, because the
// caller's handles do not outlive the request.
type Dispatcher interface {
	Dispatch(ctx context.Context, files []Source, owner Owner, options Options) error
}

// Lifecycle translates owner entity persistence events into upload work.
// Callers invoke the matching method right after their own save succeeds:
// Created after an insert, Updated after an update (with the pre-change
// attribute snapshot), Deleted and Restored after the corresponding row
// operations.
type Lifecycle struct {
	uploader   *Uploader
	dispatcher Dispatcher
}

func NewLifecycle(uploader *Uploader, dispatcher Dispatcher) *Lifecycle {
	return &Lifecycle{uploader: uploader, dispatcher: dispatcher}
}

// Created uploads files for a freshly inserted owner. On failure the owner
// row is deleted regardless of the delete-on-fail flags: it exists only to
// carry these uploads.
func (l *Lifecycle) Created(ctx context.Context, files Source, owner Owner, opts ...Option) error {
	options := l.uploader.ResolveOptions(owner, opts...)
	options.OwnerState = OwnerCreated
	return l.run(ctx, files, owner, options)
}

// Updated uploads files for an updated owner. original is the owner's
// pre-change attribute snapshot; on failure it is written back when the
// rollback flags say so.
func (l *Lifecycle) Updated(ctx context.Context, files Source, owner Owner, original map[string]any, opts ...Option) error {
	options := l.uploader.ResolveOptions(owner, opts...)
	options.OwnerState = OwnerUpdated
	options.OriginalAttributes = original
	return l.run(ctx, files, owner, options)
}

func (l *Lifecycle) run(ctx context.Context, files Source, owner Owner, options Options) error {
	if options.DisableUpload || !l.uploader.Registry().Allows(owner) {
		return nil
	}

	if !options.queued() {
		return l.uploader.HandleWithOptions(ctx, files, owner, options)
	}

	flattened := Flatten(files)
	if len(flattened) == 0 {
		return nil
	}

	// Queued batches validate up front: by the time the worker runs, the
	// request that could report the failure is long gone.
	if options.Validate {
		if err := l.uploader.validateSources(flattened); err != nil {
			return l.failBeforeDispatch(ctx, err, owner, options)
		}
	}

	if l.dispatcher == nil {
		return l.failBeforeDispatch(ctx, errors.New("no queue dispatcher configured"), owner, options)
	}

	if err := l.dispatcher.Dispatch(ctx, flattened, owner, options); err != nil {
		return l.failBeforeDispatch(ctx, fmt.Errorf("failed to dispatch upload job: %w", err), owner, options)
	}

	return nil
}

// failBeforeDispatch reverses the owner-side effects of a batch that never
// reached the queue, then returns the original error.
func (l *Lifecycle) failBeforeDispatch(ctx context.Context, err error, owner Owner, options Options) error {
	rbErr := l.uploader.Rollbacker().Handle(ctx, owner, options, options.OwnerState == OwnerCreated)
	if rbErr != nil {
		slog.Error("owner rollback failed after dispatch failure", "error", rbErr,
			"owner_type", owner.OwnerType(), "owner_id", owner.OwnerKey())
	}
	return err
}

// Deleted removes the owner's uploads after the owner row itself was
// deleted. ForceDeleteUploads picks between soft-deleting the records and
// removing rows plus storage bytes.
func (l *Lifecycle) Deleted(ctx context.Context, owner Owner, opts ...Option) error {
	options := l.uploader.ResolveOptions(owner, opts...)
	return l.uploader.uploads.DeleteForOwner(ctx, owner.OwnerType(), owner.OwnerKey(), options.ForceDeleteUploads)
}

// Restored brings back the uploads soft-deleted alongside the owner.
func (l *Lifecycle) Restored(ctx context.Context, owner Owner) error {
	return l.uploader.uploads.RestoreForOwner(ctx, owner.OwnerType(), owner.OwnerKey())
}
