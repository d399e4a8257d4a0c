package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mcphub/pkg/logging"
	pkgoauth "mcphub/pkg/oauth"
)

const (
	// stateExpiration is how long a state parameter stays valid. Users need
	// enough time to complete the authorization in a browser.
	stateExpiration = 10 * time.Minute

	// cleanupInterval is how often expired states are purged.
	cleanupInterval = 1 * time.Minute
)

// OAuthState is the payload encoded into the OAuth state parameter. The
// server name lets the callback route the authorization code back to the
// upstream that started the flow; the nonce makes each state single use.
type OAuthState struct {
	ServerName string    `json:"serverName"`
	Nonce      string    `json:"nonce"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EncodeState serializes a state payload into the URL-safe form used as the
// OAuth state parameter.
func EncodeState(state *OAuthState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeState parses an encoded state parameter without validating it. The
// callback handler uses it to find the owning upstream before the provider
// consumes the state.
func DecodeState(encoded string) (*OAuthState, error) {
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	var state OAuthState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// StateStore tracks outstanding OAuth state parameters for CSRF protection.
// Each generated state is valid for one callback within stateExpiration.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*OAuthState
	done   chan struct{}
}

// NewStateStore creates a state store and starts its cleanup loop.
func NewStateStore() *StateStore {
	s := &StateStore{
		states: make(map[string]*OAuthState),
		done:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// GenerateState creates and records a new state parameter for the named
// upstream. The returned string goes into the authorization URL verbatim.
func (s *StateStore) GenerateState(serverName string) (string, error) {
	nonce, err := pkgoauth.GenerateNonce()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	state := &OAuthState{
		ServerName: serverName,
		Nonce:      nonce,
		CreatedAt:  time.Now(),
	}
	encoded, err := EncodeState(state)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.states[encoded] = state
	s.mu.Unlock()

	return encoded, nil
}

// ValidateState checks that an encoded state was issued by this store and has
// not expired, then consumes it. A state can only be validated once.
func (s *StateStore) ValidateState(encoded string) (*OAuthState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[encoded]
	if !ok {
		return nil, false
	}
	delete(s.states, encoded)

	if time.Since(state.CreatedAt) > stateExpiration {
		logging.Debug("OAuthState", "Rejecting expired state for server %s", state.ServerName)
		return nil, false
	}
	return state, true
}

// Count returns the number of outstanding states.
func (s *StateStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Stop terminates the cleanup loop.
func (s *StateStore) Stop() {
	close(s.done)
}

func (s *StateStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

func (s *StateStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for encoded, state := range s.states {
		if now.Sub(state.CreatedAt) > stateExpiration {
			delete(s.states, encoded)
		}
	}
}
