package uploader

import (
	"sync"
)

// HookRegistry holds named before-save callbacks. Queued uploads reference
// hooks by name so the job payload stays serializable; the worker resolves
// the name back to the function.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[string]BeforeSaveFunc
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[string]BeforeSaveFunc)}
}

func (h *HookRegistry) Register(name string, fn BeforeSaveFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[name] = fn
}

func (h *HookRegistry) Get(name string) (BeforeSaveFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.hooks[name]
	return fn, ok
}
