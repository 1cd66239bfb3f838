package store

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/vladiki/Lean/internal/common/resultserrors"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

type memoryObject struct {
	payload     []byte
	permissions model.Permissions
}

// MemoryStore keeps objects in process memory. Writes are always synchronous.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}}
}

func (s *MemoryStore) Store(_ *runctx.Context, payload []byte, key string, permissions model.Permissions, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{payload: slices.Clone(payload), permissions: permissions}
	return nil
}

func (s *MemoryStore) Load(_ *runctx.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, &resultserrors.ErrNotFound{Type: "object", Value: key}
	}
	return slices.Clone(obj.payload), nil
}

// Permissions returns the permissions an object was stored with.
func (s *MemoryStore) Permissions(key string) (model.Permissions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.permissions, ok
}

// Keys returns the stored keys in lexical order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := maps.Keys(s.objects)
	slices.Sort(keys)
	return keys
}
