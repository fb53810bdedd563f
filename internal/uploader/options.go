package uploader

import (
	"context"

	"github.com/uploadkit/uploadkit/internal/config"
	"github.com/uploadkit/uploadkit/internal/model"
	"github.com/uploadkit/uploadkit/internal/storage"
)

// OwnerState records whether the owner entity was newly created or updated
// by the operation that triggered the upload. The rollback engine branches
// on it and cannot derive it from entity state once a transaction has
// rolled back, so the triggering lifecycle hook must supply it.
type OwnerState int

const (
	OwnerUpdated OwnerState = iota
	OwnerCreated
)

// BeforeSaveFunc mutates the in-progress upload record before it is
// persisted.
type BeforeSaveFunc func(ctx context.Context, upload *model.Upload, owner Owner) error

// Options is the resolved configuration snapshot for one orchestration call.
// It is built once per call by merging per-call options over owner-type
// defaults over process-wide config, and treated as immutable afterwards.
type Options struct {
	Validate                       bool   `json:"validate"`
	DeleteModelOnUploadFail        bool   `json:"delete_model_on_upload_fail"`
	RollbackModelOnUploadFail      bool   `json:"rollback_model_on_upload_fail"`
	DeleteModelOnQueueUploadFail   bool   `json:"delete_model_on_queue_upload_fail"`
	RollbackModelOnQueueUploadFail bool   `json:"rollback_model_on_queue_upload_fail"`
	ForceDeleteUploads             bool   `json:"force_delete_uploads"`
	ReplacePreviousUploads         bool   `json:"replace_previous_uploads"`
	DisableUpload                  bool   `json:"disable_upload,omitempty"`
	Queue                          string `json:"queue,omitempty"` // empty = synchronous
	Disk                           string `json:"disk,omitempty"`  // storage disk tag override
	Tag                            string `json:"tag,omitempty"`   // free-form classification applied to records

	// Attributes are extra static record attributes applied before the
	// before-save hook runs. Supported keys: "tag", "name", "original_name".
	Attributes map[string]string `json:"attributes,omitempty"`

	PutOptions storage.PutOptions `json:"put_options"`

	// OriginalAttributes is the owner's pre-change attribute snapshot,
	// used only for rollback restoration on updates.
	OriginalAttributes map[string]any `json:"original_attributes,omitempty"`

	OwnerState OwnerState `json:"owner_state"`

	// BeforeSave is a call-scoped hook. It cannot cross a queue boundary;
	// queued uploads use BeforeSaveHook, a name resolved in the worker.
	BeforeSave     BeforeSaveFunc `json:"-"`
	BeforeSaveHook string         `json:"before_save_hook,omitempty"`
}

func (o Options) queued() bool {
	return o.Queue != ""
}

// DefaultOptions builds the process-wide option defaults from config.
func DefaultOptions(cfg *config.Config) Options {
	return Options{
		Validate:                       cfg.UploadValidate,
		DeleteModelOnUploadFail:        cfg.DeleteModelOnUploadFail,
		RollbackModelOnUploadFail:      cfg.RollbackModelOnUploadFail,
		DeleteModelOnQueueUploadFail:   cfg.DeleteModelOnQueueUploadFail,
		RollbackModelOnQueueUploadFail: cfg.RollbackModelOnQueueUploadFail,
		ForceDeleteUploads:             cfg.ForceDeleteUploads,
		ReplacePreviousUploads:         cfg.ReplacePreviousUploads,
		Queue:                          cfg.UploadQueue,
	}
}

// Option is a per-call override applied on top of resolved defaults.
type Option func(*Options)

// WithoutUpload skips the upload process entirely for this call.
func WithoutUpload() Option {
	return func(o *Options) { o.DisableUpload = true }
}

func WithValidation(validate bool) Option {
	return func(o *Options) { o.Validate = validate }
}

// WithQueue offloads the upload to the named queue; empty reverts to
// synchronous execution.
func WithQueue(queue string) Option {
	return func(o *Options) { o.Queue = queue }
}

// WithDisk stores this call's files on the tagged storage backend.
func WithDisk(disk string) Option {
	return func(o *Options) { o.Disk = disk }
}

func WithTag(tag string) Option {
	return func(o *Options) { o.Tag = tag }
}

func WithAttributes(attrs map[string]string) Option {
	return func(o *Options) { o.Attributes = attrs }
}

func WithPutOptions(opts storage.PutOptions) Option {
	return func(o *Options) { o.PutOptions = opts }
}

// WithBeforeSave sets a call-scoped before-save hook. It takes priority over
// the owner type's BeforeSavingUpload method. Not serializable: combined
// with a queue it fails at dispatch time.
func WithBeforeSave(fn BeforeSaveFunc) Option {
	return func(o *Options) { o.BeforeSave = fn }
}

// WithBeforeSaveHook references a hook registered in the HookRegistry by
// name, which is safe to carry across a queue boundary.
func WithBeforeSaveHook(name string) Option {
	return func(o *Options) { o.BeforeSaveHook = name }
}

func WithOriginalAttributes(attrs map[string]any) Option {
	return func(o *Options) { o.OriginalAttributes = attrs }
}

func WithOwnerState(state OwnerState) Option {
	return func(o *Options) { o.OwnerState = state }
}

func WithReplacePreviousUploads(replace bool) Option {
	return func(o *Options) { o.ReplacePreviousUploads = replace }
}

func WithForceDeleteUploads(force bool) Option {
	return func(o *Options) { o.ForceDeleteUploads = force }
}

func WithDeleteModelOnFail(del bool) Option {
	return func(o *Options) { o.DeleteModelOnUploadFail = del }
}

func WithRollbackModelOnFail(rollback bool) Option {
	return func(o *Options) { o.RollbackModelOnUploadFail = rollback }
}

func WithDeleteModelOnQueueFail(del bool) Option {
	return func(o *Options) { o.DeleteModelOnQueueUploadFail = del }
}

func WithRollbackModelOnQueueFail(rollback bool) Option {
	return func(o *Options) { o.RollbackModelOnQueueUploadFail = rollback }
}
