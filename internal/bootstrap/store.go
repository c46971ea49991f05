package bootstrap

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// URLPrefix marks object URLs issued by a Store.
const URLPrefix = "blob:webworker/"

// Store keeps rendered scripts addressable by object URL.
type Store struct {
	mu      sync.RWMutex
	objects map[string]string
}

func NewStore() *Store {
	return &Store{objects: make(map[string]string)}
}

// CreateObjectURL registers text and returns its URL.
func (s *Store) CreateObjectURL(text string) string {
	url := URLPrefix + uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[url] = text
	return url
}

func (s *Store) Resolve(url string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.objects[strings.TrimSpace(url)]
	return text, ok
}

func (s *Store) Revoke(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, strings.TrimSpace(url))
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var defaultStore = NewStore()

// Default is the process-wide store used when none is configured.
func Default() *Store {
	return defaultStore
}
