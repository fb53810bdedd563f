package uploader

import (
	"github.com/uploadkit/uploadkit/internal/model"
)

// Events observes the upload lifecycle. Notifications fire in order and are
// best-effort only: the orchestrator does not retry or depend on them.
type Events interface {
	// BatchStarting fires once per invocation, before any file processing.
	BatchStarting(owner Owner, files []Source, opts Options)

	// FileStarting fires immediately before each file's storage write.
	FileStarting(owner Owner, filename, dir string)

	// FileUploaded fires after each file's transaction commits. It may fire
	// multiple times per batch.
	FileUploaded(owner Owner, upload *model.Upload)

	// BatchCompleted fires after the whole batch succeeded, with the
	// owner's current upload collection.
	BatchCompleted(owner Owner, uploads []*model.Upload)

	// BatchFailed fires when the batch is abandoned.
	BatchFailed(err error, owner Owner)
}

// NoopEvents implements Events with no-ops. Embed it to observe a subset.
type NoopEvents struct{}

func (NoopEvents) BatchStarting(Owner, []Source, Options) {}
func (NoopEvents) FileStarting(Owner, string, string)     {}
func (NoopEvents) FileUploaded(Owner, *model.Upload)      {}
func (NoopEvents) BatchCompleted(Owner, []*model.Upload)  {}
func (NoopEvents) BatchFailed(error, Owner)               {}
