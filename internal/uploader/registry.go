package uploader

import (
	"fmt"
	"sync"
)

// target identifies either a whole owner type (key empty) or one owner
// instance.
type target struct {
	ownerType string
	key       string
}

// Registry controls which owner types and instances the uploader processes.
// A target is never in both the disabled and only sets at once: each
// mutation removes overlapping entries from the opposite set. Intended
// usage is scoping bulk operations (e.g. disabling uploads during an
// import); concurrent mutation during overlapping batches is the caller's
// responsibility to avoid.
type Registry struct {
	mu       sync.Mutex
	disabled map[target]bool
	only     map[target]bool
}

func NewRegistry() *Registry {
	return &Registry{
		disabled: make(map[target]bool),
		only:     make(map[target]bool),
	}
}

// targetsOf accepts owner type names (string) and owner instances.
func targetsOf(items []any) []target {
	targets := make([]target, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			targets = append(targets, target{ownerType: v})
		case Owner:
			targets = append(targets, target{ownerType: v.OwnerType(), key: v.OwnerKey()})
		default:
			panic(fmt.Sprintf("uploader: registry target must be a type name or Owner, got %T", item))
		}
	}
	return targets
}

// DisableFor replaces the disabled set with the given targets and removes
// them from the only set.
func (r *Registry) DisableFor(items ...any) {
	targets := targetsOf(items)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range targets {
		delete(r.only, t)
	}
	r.disabled = make(map[target]bool, len(targets))
	for _, t := range targets {
		r.disabled[t] = true
	}
}

// EnableFor removes the given targets from the disabled set.
func (r *Registry) EnableFor(items ...any) {
	targets := targetsOf(items)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range targets {
		delete(r.disabled, t)
	}
}

// OnlyFor replaces the only set with the given targets and removes them
// from the disabled set. While the only set is non-empty, owners outside it
// are skipped.
func (r *Registry) OnlyFor(items ...any) {
	targets := targetsOf(items)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range targets {
		delete(r.disabled, t)
	}
	r.only = make(map[target]bool, len(targets))
	for _, t := range targets {
		r.only[t] = true
	}
}

// Reset clears both sets.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disabled = make(map[target]bool)
	r.only = make(map[target]bool)
}

// Allows reports whether uploads for the given owner should be processed.
func (r *Registry) Allows(owner Owner) bool {
	byType := target{ownerType: owner.OwnerType()}
	byInstance := target{ownerType: owner.OwnerType(), key: owner.OwnerKey()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disabled[byType] || r.disabled[byInstance] {
		return false
	}
	if len(r.only) > 0 && !r.only[byType] && !r.only[byInstance] {
		return false
	}
	return true
}
