package caps

import (
	"fmt"
	"sync"
)

// HashMap is the in-memory reference Map implementation. Keys and values are
// fixed-size byte strings per the declared MapSpec; access is guarded so
// concurrently executing programs can share one map.
type HashMap struct {
	spec MapSpec

	mu      sync.RWMutex
	entries map[string][]byte
}

// NewHashMap creates an empty in-memory map with the given spec.
func NewHashMap(spec MapSpec) *HashMap {
	return &HashMap{
		spec:    spec,
		entries: make(map[string][]byte),
	}
}

func (h *HashMap) Spec() MapSpec { return h.spec }

func (h *HashMap) Lookup(key []byte) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries[string(key)]
}

func (h *HashMap) Update(key, value []byte) error {
	if uint32(len(key)) != h.spec.KeySize {
		return fmt.Errorf("key size %d, want %d", len(key), h.spec.KeySize)
	}
	if uint32(len(value)) != h.spec.ValueSize {
		return fmt.Errorf("value size %d, want %d", len(value), h.spec.ValueSize)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	existing, ok := h.entries[string(key)]
	if ok {
		// Preserve the identity of the stored slice: programs holding a
		// pointer from a previous lookup observe the new bytes.
		copy(existing, value)
		return nil
	}
	h.entries[string(key)] = append([]byte(nil), value...)
	return nil
}

func (h *HashMap) Delete(key []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entries[string(key)]; !ok {
		return fmt.Errorf("key not found")
	}
	delete(h.entries, string(key))
	return nil
}
