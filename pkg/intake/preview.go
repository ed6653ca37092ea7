package intake

import (
	"sync"

	"github.com/google/uuid"

	"github.com/menta2k/pulmoscan/pkg/types"
)

// PreviewRegistry keeps track of preview handles that have not been released
type PreviewRegistry struct {
	mu   sync.Mutex
	live map[string]*types.PreviewHandle
}

// NewPreviewRegistry creates an empty registry
func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{live: make(map[string]*types.PreviewHandle)}
}

// Create registers a new handle for the given data URI
func (r *PreviewRegistry) Create(mimeType, dataURI string, width, height int) *types.PreviewHandle {
	h := &types.PreviewHandle{
		ID:       uuid.NewString(),
		MimeType: mimeType,
		DataURI:  dataURI,
		Width:    width,
		Height:   height,
	}
	r.mu.Lock()
	r.live[h.ID] = h
	r.mu.Unlock()
	return h
}

// Release drops a handle. Releasing twice or releasing nil is a no-op.
func (r *PreviewRegistry) Release(h *types.PreviewHandle) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h.ID]; !ok {
		return false
	}
	delete(r.live, h.ID)
	return true
}

// Live returns the number of unreleased handles
func (r *PreviewRegistry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Lookup resolves a handle ID
func (r *PreviewRegistry) Lookup(id string) (*types.PreviewHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.live[id]
	return h, ok
}
