package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uploadkit/uploadkit/internal/model"
	"github.com/uploadkit/uploadkit/internal/storage"
)

var (
	ErrUploadNotFound = errors.New("upload not found")
)

// DiskResolver maps an upload's disk tag to its storage backend.
// The empty tag resolves to the default disk.
type DiskResolver func(tag string) storage.Storage

type UploadRepository interface {
	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *sqlx.Tx) UploadRepository

	Create(ctx context.Context, upload *model.Upload) error
	ByID(ctx context.Context, id string) (*model.Upload, error)
	ByIDWithTrashed(ctx context.Context, id string) (*model.Upload, error)
	ForOwner(ctx context.Context, ownerType, ownerID string) ([]*model.Upload, error)
	ForOwnerWithTrashed(ctx context.Context, ownerType, ownerID string) ([]*model.Upload, error)
	ForOwnerTagged(ctx context.Context, ownerType, ownerID, tag string) ([]*model.Upload, error)

	SoftDelete(ctx context.Context, id string) error
	// HardDelete removes the row and cascades to the storage bytes.
	HardDelete(ctx context.Context, id string) error
	// DeleteNotIn deletes the owner's uploads whose ids are not in keep.
	DeleteNotIn(ctx context.Context, ownerType, ownerID string, keep []string, force bool) error
	// DeleteForOwner deletes all of the owner's uploads, soft or hard.
	DeleteForOwner(ctx context.Context, ownerType, ownerID string, force bool) error
	// RestoreForOwner un-soft-deletes all of the owner's uploads.
	RestoreForOwner(ctx context.Context, ownerType, ownerID string) error
}

type uploadRepository struct {
	db    sqlx.ExtContext
	disks DiskResolver
}

func NewUploadRepository(db *sqlx.DB, disks DiskResolver) UploadRepository {
	return &uploadRepository{db: db, disks: disks}
}

func (r *uploadRepository) WithTx(tx *sqlx.Tx) UploadRepository {
	return &uploadRepository{db: tx, disks: r.disks}
}

func (r *uploadRepository) Create(ctx context.Context, upload *model.Upload) error {
	now := time.Now()
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = now
	}
	upload.UpdatedAt = now

	query := r.db.Rebind(`INSERT INTO uploads (id, owner_type, owner_id, name, original_name, extension, size, type, path, disk, tag, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		upload.ID,
		upload.OwnerType,
		upload.OwnerID,
		upload.Name,
		upload.OriginalName,
		upload.Extension,
		upload.Size,
		upload.Type,
		upload.Path,
		upload.Disk,
		upload.Tag,
		upload.CreatedAt,
		upload.UpdatedAt,
	)

	return err
}

func (r *uploadRepository) ByID(ctx context.Context, id string) (*model.Upload, error) {
	upload := &model.Upload{}
	query := r.db.Rebind(`SELECT * FROM uploads WHERE id = ? AND deleted_at IS NULL`)

	err := sqlx.GetContext(ctx, r.db, upload, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUploadNotFound
	}

	return upload, err
}

func (r *uploadRepository) ByIDWithTrashed(ctx context.Context, id string) (*model.Upload, error) {
	upload := &model.Upload{}
	query := r.db.Rebind(`SELECT * FROM uploads WHERE id = ?`)

	err := sqlx.GetContext(ctx, r.db, upload, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUploadNotFound
	}

	return upload, err
}

func (r *uploadRepository) ForOwner(ctx context.Context, ownerType, ownerID string) ([]*model.Upload, error) {
	var uploads []*model.Upload
	query := r.db.Rebind(`SELECT * FROM uploads WHERE owner_type = ? AND owner_id = ? AND deleted_at IS NULL ORDER BY created_at, id`)

	err := sqlx.SelectContext(ctx, r.db, &uploads, query, ownerType, ownerID)
	if err != nil {
		return nil, err
	}

	return uploads, nil
}

func (r *uploadRepository) ForOwnerWithTrashed(ctx context.Context, ownerType, ownerID string) ([]*model.Upload, error) {
	var uploads []*model.Upload
	query := r.db.Rebind(`SELECT * FROM uploads WHERE owner_type = ? AND owner_id = ? ORDER BY created_at, id`)

	err := sqlx.SelectContext(ctx, r.db, &uploads, query, ownerType, ownerID)
	if err != nil {
		return nil, err
	}

	return uploads, nil
}

func (r *uploadRepository) ForOwnerTagged(ctx context.Context, ownerType, ownerID, tag string) ([]*model.Upload, error) {
	var uploads []*model.Upload
	query := r.db.Rebind(`SELECT * FROM uploads WHERE owner_type = ? AND owner_id = ? AND tag = ? AND deleted_at IS NULL ORDER BY created_at, id`)

	err := sqlx.SelectContext(ctx, r.db, &uploads, query, ownerType, ownerID, tag)
	if err != nil {
		return nil, err
	}

	return uploads, nil
}

func (r *uploadRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now()
	query := r.db.Rebind(`UPDATE uploads SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`)

	_, err := r.db.ExecContext(ctx, query, now, now, id)
	return err
}

func (r *uploadRepository) HardDelete(ctx context.Context, id string) error {
	upload, err := r.ByIDWithTrashed(ctx, id)
	if err != nil {
		return err
	}

	err = r.deleteRow(ctx, id)
	if err != nil {
		return err
	}

	r.deleteBytes(ctx, upload)
	return nil
}

func (r *uploadRepository) deleteRow(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM uploads WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *uploadRepository) DeleteNotIn(ctx context.Context, ownerType, ownerID string, keep []string, force bool) error {
	victims, err := r.ForOwner(ctx, ownerType, ownerID)
	if err != nil {
		return err
	}

	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}

	for _, upload := range victims {
		if kept[upload.ID] {
			continue
		}
		if force {
			err = r.HardDelete(ctx, upload.ID)
		} else {
			err = r.SoftDelete(ctx, upload.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to delete superseded upload %s: %w", upload.ID, err)
		}
	}

	return nil
}

// DeleteForOwner removes all of the owner's uploads in one transaction:
// either every row is deleted or none is. Storage-byte cascades run only
// after commit, so a rolled-back deletion never strands rows pointing at
// removed files.
func (r *uploadRepository) DeleteForOwner(ctx context.Context, ownerType, ownerID string, force bool) error {
	// Already inside a caller-owned transaction
	if _, ok := r.db.(*sqlx.Tx); ok {
		_, err := r.deleteOwnerRows(ctx, ownerType, ownerID, force)
		return err
	}

	db, ok := r.db.(*sqlx.DB)
	if !ok {
		return fmt.Errorf("unsupported executor %T", r.db)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &uploadRepository{db: tx, disks: r.disks}
	removed, err := txRepo.deleteOwnerRows(ctx, ownerType, ownerID, force)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit upload deletion: %w", err)
	}

	for _, upload := range removed {
		r.deleteBytes(ctx, upload)
	}
	return nil
}

// deleteOwnerRows deletes the owner's upload rows only, returning the
// uploads whose storage bytes still need removal (hard delete).
func (r *uploadRepository) deleteOwnerRows(ctx context.Context, ownerType, ownerID string, force bool) ([]*model.Upload, error) {
	uploads, err := r.ForOwnerWithTrashed(ctx, ownerType, ownerID)
	if err != nil {
		return nil, err
	}

	var removed []*model.Upload
	for _, upload := range uploads {
		if force {
			err = r.deleteRow(ctx, upload.ID)
			removed = append(removed, upload)
		} else if !upload.Trashed() {
			err = r.SoftDelete(ctx, upload.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to delete upload %s: %w", upload.ID, err)
		}
	}

	return removed, nil
}

func (r *uploadRepository) RestoreForOwner(ctx context.Context, ownerType, ownerID string) error {
	query := r.db.Rebind(`UPDATE uploads SET deleted_at = NULL, updated_at = ? WHERE owner_type = ? AND owner_id = ? AND deleted_at IS NOT NULL`)

	_, err := r.db.ExecContext(ctx, query, time.Now(), ownerType, ownerID)
	return err
}

// deleteBytes removes the storage bytes backing a hard-deleted row.
// Best effort: the row is already gone, so failures are only logged.
func (r *uploadRepository) deleteBytes(ctx context.Context, upload *model.Upload) {
	if r.disks == nil {
		return
	}

	tag := ""
	if upload.Disk != nil {
		tag = *upload.Disk
	}

	disk := r.disks(tag)
	if disk == nil {
		slog.Warn("no storage backend for disk tag, bytes not removed", "disk", tag, "path", upload.Path)
		return
	}

	_, err := disk.Delete(ctx, upload.Path)
	if err != nil {
		slog.Error("failed to delete file from storage", "error", err, "path", upload.Path)
	}
}
