package oauth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mcphub/internal/config"
	"mcphub/pkg/logging"
)

// Store persists per-upstream OAuth state as YAML files under
// <configDir>/oauth/. It keeps a write-through cache so reads on the token
// path do not hit the filesystem, and serializes all mutations so concurrent
// connect attempts cannot interleave partial updates.
type Store struct {
	mu      sync.Mutex
	storage *config.Storage
	cache   map[string]*ServerState
}

// NewStore creates a store rooted at the default configuration directory.
func NewStore() *Store {
	return &Store{
		storage: config.NewStorage(),
		cache:   make(map[string]*ServerState),
	}
}

// NewStoreWithPath creates a store rooted at a custom configuration directory.
func NewStoreWithPath(configDir string) *Store {
	return &Store{
		storage: config.NewStorageWithPath(configDir),
		cache:   make(map[string]*ServerState),
	}
}

// Get returns a copy of the state for the named upstream. Upstreams without
// persisted state get a zero value, never nil.
func (s *Store) Get(serverName string) *ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked(serverName)
	if err != nil {
		logging.Warn("OAuthStore", "Failed to load state for %s: %v", serverName, err)
		return &ServerState{}
	}
	copied := *state
	if state.Pending != nil {
		pending := *state.Pending
		copied.Pending = &pending
	}
	return &copied
}

// Update applies mutate to the state of the named upstream and persists the
// result. The mutation runs under the store lock.
func (s *Store) Update(serverName string, mutate func(*ServerState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked(serverName)
	if err != nil {
		return err
	}
	mutate(state)
	state.UpdatedAt = time.Now()

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal oauth state for %s: %w", serverName, err)
	}
	if err := s.storage.Save(config.OAuthDir, serverName, data); err != nil {
		return fmt.Errorf("failed to persist oauth state for %s: %w", serverName, err)
	}
	s.cache[serverName] = state
	return nil
}

// Delete removes all persisted state for the named upstream. Deleting an
// upstream that has no state is not an error.
func (s *Store) Delete(serverName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, serverName)
	if err := s.storage.Delete(config.OAuthDir, serverName); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// List returns the names of all upstreams with persisted state.
func (s *Store) List() ([]string, error) {
	return s.storage.List(config.OAuthDir)
}

func (s *Store) loadLocked(serverName string) (*ServerState, error) {
	if state, ok := s.cache[serverName]; ok {
		return state, nil
	}

	data, err := s.storage.Load(config.OAuthDir, serverName)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			state := &ServerState{}
			s.cache[serverName] = state
			return state, nil
		}
		return nil, err
	}

	var state ServerState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse oauth state for %s: %w", serverName, err)
	}
	s.cache[serverName] = &state
	return &state, nil
}
