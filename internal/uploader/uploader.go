package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/uploadkit/uploadkit/internal/model"
	"github.com/uploadkit/uploadkit/internal/repository"
	"github.com/uploadkit/uploadkit/internal/storage"
)

// Config wires an Uploader.
type Config struct {
	DB        *sqlx.DB
	Uploads   repository.UploadRepository
	Storage   storage.Storage            // default disk
	Temporary storage.Storage            // staging disk for queued uploads
	Disks     map[string]storage.Storage // additional disks by tag
	Owners    OwnerStore
	Defaults  Options
	Rules     map[string]Rule // nil = DefaultRules
	Hooks     *HookRegistry   // nil = fresh registry
	Events    []Events
}

// Uploader drives the per-file upload sequence: it owns the transaction
// boundary, applies the enable/disable policy, emits lifecycle
// notifications, and reverses partial effects on failure.
type Uploader struct {
	db       *sqlx.DB
	uploads  repository.UploadRepository
	storage  storage.Storage
	tmp      storage.Storage
	disks    map[string]storage.Storage
	defaults Options
	rules    map[string]Rule
	hooks    *HookRegistry
	events   []Events
	registry *Registry
	rollback *Rollback
}

func New(cfg Config) *Uploader {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NewHookRegistry()
	}

	return &Uploader{
		db:       cfg.DB,
		uploads:  cfg.Uploads,
		storage:  cfg.Storage,
		tmp:      cfg.Temporary,
		disks:    cfg.Disks,
		defaults: cfg.Defaults,
		rules:    rules,
		hooks:    hooks,
		events:   cfg.Events,
		registry: NewRegistry(),
		rollback: NewRollback(cfg.Owners),
	}
}

// Registry returns the enable/disable policy registry.
func (u *Uploader) Registry() *Registry {
	return u.registry
}

// Hooks returns the named before-save hook registry.
func (u *Uploader) Hooks() *HookRegistry {
	return u.hooks
}

// Rollbacker returns the rollback engine for callers that must trigger
// owner rollback outside the orchestrator (validation and dispatch
// failures, where the orchestrator's own rollback never ran).
func (u *Uploader) Rollbacker() *Rollback {
	return u.rollback
}

// ResolveOptions merges per-call options over owner-type defaults over
// process-wide defaults.
func (u *Uploader) ResolveOptions(owner Owner, opts ...Option) Options {
	options := u.defaults
	if provider, ok := owner.(OptionsProvider); ok {
		for _, opt := range provider.UploadOptions() {
			opt(&options)
		}
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Handle uploads the given files for the owner. The batch is processed
// strictly in depth-first flattening order, each file under its own
// database transaction. On failure the batch is abandoned: the failing
// file's effects are reversed, storage bytes written by this batch are
// cleaned up, the rollback engine runs against the owner, and the original
// error is returned. Files committed by earlier iterations stay committed.
func (u *Uploader) Handle(ctx context.Context, files Source, owner Owner, opts ...Option) error {
	return u.HandleWithOptions(ctx, files, owner, u.ResolveOptions(owner, opts...))
}

// HandleWithOptions is Handle with an already-resolved option snapshot,
// used on the worker side of a queue boundary.
func (u *Uploader) HandleWithOptions(ctx context.Context, files Source, owner Owner, options Options) error {
	if options.DisableUpload || !u.registry.Allows(owner) {
		return nil
	}

	flattened := Flatten(files)
	if len(flattened) == 0 {
		return nil
	}

	if options.Validate {
		if err := u.validateSources(flattened); err != nil {
			// Validation rejects the batch before anything was written, but a
			// freshly created owner row still has to go: it exists only to
			// carry these uploads.
			rbErr := u.rollback.Handle(ctx, owner, options, options.OwnerState == OwnerCreated)
			if rbErr != nil {
				slog.Error("owner rollback failed after validation failure", "error", rbErr,
					"owner_type", owner.OwnerType(), "owner_id", owner.OwnerKey())
			}
			for _, ev := range u.events {
				ev.BatchFailed(err, owner)
			}
			return err
		}
	}

	for _, ev := range u.events {
		ev.BatchStarting(owner, flattened, options)
	}

	b := &batch{}
	for _, src := range flattened {
		if err := u.uploadOne(ctx, src, owner, options, b); err != nil {
			for _, ev := range u.events {
				ev.BatchFailed(err, owner)
			}
			return err
		}
	}

	if options.ReplacePreviousUploads && len(b.ids) > 0 {
		err := u.uploads.DeleteNotIn(ctx, owner.OwnerType(), owner.OwnerKey(), b.ids, options.ForceDeleteUploads)
		if err != nil {
			for _, ev := range u.events {
				ev.BatchFailed(err, owner)
			}
			return fmt.Errorf("failed to replace previous uploads: %w", err)
		}
	}

	if len(u.events) > 0 {
		current, err := u.uploads.ForOwner(ctx, owner.OwnerType(), owner.OwnerKey())
		if err != nil {
			// The uploads themselves are committed; only the notification
			// is dropped so observers never see an empty completed batch.
			slog.Error("failed to load uploads for batch notification", "error", err, "owner", owner.OwnerType())
		} else {
			for _, ev := range u.events {
				ev.BatchCompleted(owner, current)
			}
		}
	}

	return nil
}

// batch accumulates effects of one orchestration call. paths holds storage
// writes not yet covered by a commit; each commit drains it, because a
// committed file is a durable fact that a later failure must not undo.
type batch struct {
	paths []string // storage paths written since the last commit
	ids   []string // upload record ids committed so far
}

func (u *Uploader) uploadOne(ctx context.Context, src Source, owner Owner, options Options, b *batch) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	upload, err := u.processFile(ctx, tx, src, owner, options, b)
	if err == nil {
		err = tx.Commit()
		if err != nil {
			err = fmt.Errorf("failed to commit upload: %w", err)
		}
	}

	if err != nil {
		_ = tx.Rollback()
		u.cleanupBatch(ctx, options, b)

		rbErr := u.rollback.Handle(ctx, owner, options, false)
		if rbErr != nil {
			slog.Error("owner rollback failed after upload failure", "error", rbErr,
				"owner_type", owner.OwnerType(), "owner_id", owner.OwnerKey())
		}

		return &UploadError{Filename: sourceName(src), Err: err}
	}

	b.paths = b.paths[:0]
	b.ids = append(b.ids, upload.ID)

	for _, ev := range u.events {
		ev.FileUploaded(owner, upload)
	}
	return nil
}

func (u *Uploader) processFile(ctx context.Context, tx *sqlx.Tx, src Source, owner Owner, options Options, b *batch) (*model.Upload, error) {
	file, tempPath, err := u.materialize(ctx, src)
	if err != nil {
		return nil, err
	}

	dir := uploadDir(owner, file)
	filename := uploadFilename(owner, file)

	for _, ev := range u.events {
		ev.FileStarting(owner, filename, dir)
	}

	disk, err := u.disk(options.Disk)
	if err != nil {
		return nil, err
	}

	putOpts := options.PutOptions
	if putOpts.ContentType == "" {
		putOpts.ContentType = file.MIME()
	}

	fullpath, err := disk.Put(ctx, bytes.NewReader(file.Content), dir, filename, putOpts)
	if err != nil {
		return nil, err
	}
	// Recorded before anything else so a later failure can still clean it up.
	b.paths = append(b.paths, fullpath)

	upload := &model.Upload{
		ID:           uuid.NewString(),
		Name:         filename,
		OriginalName: file.Name,
		Extension:    file.Ext(),
		Size:         file.Size(),
		Type:         file.MIME(),
		Path:         fullpath,
	}
	if options.Disk != "" {
		disk := options.Disk
		upload.Disk = &disk
	}

	applyAttributes(upload, options)

	err = u.beforeSave(ctx, upload, owner, options)
	if err != nil {
		return nil, err
	}

	upload.OwnerType = owner.OwnerType()
	upload.OwnerID = owner.OwnerKey()

	err = u.uploads.WithTx(tx).Create(ctx, upload)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}

	// The staged copy has been durably relocated; drop it.
	if tempPath != "" {
		_, err = u.tmp.Delete(ctx, tempPath)
		if err != nil {
			return nil, fmt.Errorf("failed to delete temporary file %s: %w", tempPath, err)
		}
	}

	return upload, nil
}

// materialize resolves a source to a concrete file handle. Temporary-disk
// paths are read back from the staging disk, basename preserved.
func (u *Uploader) materialize(ctx context.Context, src Source) (*File, string, error) {
	switch s := src.(type) {
	case *File:
		return s, "", nil
	case TempPath:
		if u.tmp == nil {
			return nil, "", fmt.Errorf("no temporary disk configured for staged path %s", s)
		}
		content, err := u.tmp.Get(ctx, string(s))
		if err != nil {
			return nil, "", fmt.Errorf("failed to materialize staged file %s: %w", s, err)
		}
		return FileFromBytes(path.Base(string(s)), content), string(s), nil
	default:
		return nil, "", fmt.Errorf("unsupported upload source %T", src)
	}
}

func (u *Uploader) disk(tag string) (storage.Storage, error) {
	if tag == "" {
		return u.storage, nil
	}
	disk, ok := u.disks[tag]
	if !ok {
		return nil, fmt.Errorf("unknown storage disk %q", tag)
	}
	return disk, nil
}

func (u *Uploader) beforeSave(ctx context.Context, upload *model.Upload, owner Owner, options Options) error {
	// Call-scoped hook wins, then the named hook, then the owner type's.
	if options.BeforeSave != nil {
		return options.BeforeSave(ctx, upload, owner)
	}
	if options.BeforeSaveHook != "" {
		fn, ok := u.hooks.Get(options.BeforeSaveHook)
		if !ok {
			return fmt.Errorf("unknown before-save hook %q", options.BeforeSaveHook)
		}
		return fn(ctx, upload, owner)
	}
	if saver, ok := owner.(BeforeSaver); ok {
		return saver.BeforeSavingUpload(ctx, upload, owner)
	}
	return nil
}

// cleanupBatch deletes every storage path the batch has written. It runs on
// an already-failing path, so individual delete failures are logged and
// skipped.
func (u *Uploader) cleanupBatch(ctx context.Context, options Options, b *batch) {
	disk, err := u.disk(options.Disk)
	if err != nil {
		slog.Error("cannot clean up batch storage", "error", err)
		return
	}

	for _, p := range b.paths {
		_, err := disk.Delete(ctx, p)
		if err != nil {
			slog.Error("failed to delete file from storage during cleanup", "error", err, "path", p)
		}
	}
}

func applyAttributes(upload *model.Upload, options Options) {
	if options.Tag != "" {
		tag := options.Tag
		upload.Tag = &tag
	}
	for key, value := range options.Attributes {
		switch key {
		case "tag":
			v := value
			upload.Tag = &v
		case "name":
			upload.Name = value
		case "original_name":
			upload.OriginalName = value
		}
	}
}

func uploadDir(owner Owner, file *File) string {
	if p, ok := owner.(PathProvider); ok {
		return p.UploadPath(file)
	}
	return path.Join(owner.OwnerType(), owner.OwnerKey())
}

func uploadFilename(owner Owner, file *File) string {
	if p, ok := owner.(FilenameProvider); ok {
		return p.UploadFilename(file)
	}

	sum := sha256.Sum256(file.Content)
	name := fmt.Sprintf("%d-%s", time.Now().UnixMicro(), hex.EncodeToString(sum[:])[:40])
	if ext := file.Ext(); ext != "" {
		name += "." + ext
	}
	return name
}

func sourceName(src Source) string {
	switch s := src.(type) {
	case *File:
		return s.Name
	case TempPath:
		return path.Base(string(s))
	default:
		return fmt.Sprintf("%T", src)
	}
}
