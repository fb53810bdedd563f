package model

import (
	"time"
)

// Upload is one stored file and its owner association.
// The owner reference is polymorphic: OwnerType tags the owning table,
// OwnerID is the owner's primary key value.
type Upload struct {
	ID           string     `db:"id"`
	OwnerType    string     `db:"owner_type"`
	OwnerID      string     `db:"owner_id"`
	Name         string     `db:"name"`          // Generated, collision-resistant filename
	OriginalName string     `db:"original_name"` // Client-supplied filename
	Extension    string     `db:"extension"`     // Lowercase, without dot
	Size         int64      `db:"size"`
	Type         string     `db:"type"` // Detected MIME type
	Path         string     `db:"path"` // Backend-relative storage key
	Disk         *string    `db:"disk"` // Storage backend tag, nil = default disk
	Tag          *string    `db:"tag"`  // Free-form classification
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at"` // Soft-delete marker
}

// Trashed reports whether the upload is soft-deleted.
func (u *Upload) Trashed() bool {
	return u.DeletedAt != nil
}
