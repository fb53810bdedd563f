package uploader

import (
	"context"
	"fmt"
	"sync"

	"github.com/uploadkit/uploadkit/internal/model"
)

// Owner is the entity that uploaded files are attached to.
type Owner interface {
	// OwnerType returns the owner's table/collection name. It doubles as
	// the polymorphic tag on upload rows and as the default upload
	// directory prefix.
	OwnerType() string

	// OwnerKey returns the owner's primary key value.
	OwnerKey() string
}

// KeyColumnProvider lets an owner type override its primary key column.
type KeyColumnProvider interface {
	OwnerKeyColumn() string
}

// PathProvider lets an owner type choose the upload destination directory.
type PathProvider interface {
	UploadPath(file *File) string
}

// FilenameProvider lets an owner type choose the stored filename.
type FilenameProvider interface {
	UploadFilename(file *File) string
}

// BeforeSaver is called with each in-progress upload record before it is
// persisted. It is the extension point for domain-specific metadata.
type BeforeSaver interface {
	BeforeSavingUpload(ctx context.Context, upload *model.Upload, owner Owner) error
}

// OptionsProvider supplies owner-type-level default options, applied between
// process-wide defaults and per-call options.
type OptionsProvider interface {
	UploadOptions() []Option
}

func keyColumn(owner Owner) string {
	if p, ok := owner.(KeyColumnProvider); ok {
		return p.OwnerKeyColumn()
	}
	return "id"
}

// Resolver loads an owner entity by key, used to rehydrate owners on the
// far side of a queue boundary.
type Resolver func(ctx context.Context, key string) (Owner, error)

// ResolverRegistry maps owner type tags to their entity loaders.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{resolvers: make(map[string]Resolver)}
}

func (r *ResolverRegistry) Register(ownerType string, resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[ownerType] = resolver
}

func (r *ResolverRegistry) Has(ownerType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolvers[ownerType]
	return ok
}

func (r *ResolverRegistry) Resolve(ctx context.Context, ownerType, key string) (Owner, error) {
	r.mu.RLock()
	resolver, ok := r.resolvers[ownerType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no resolver registered for owner type %q", ownerType)
	}
	return resolver(ctx, key)
}
