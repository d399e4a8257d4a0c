package config

import (
	"fmt"
	"sync"
)

// Settings is a point-in-time view of the full configuration.
type Settings struct {
	Hub       HubConfig
	Upstreams []UpstreamDefinition
	Groups    []GroupDefinition
}

// Store holds the loaded configuration and serves both the raw and the
// user-filtered views of it.
type Store struct {
	mu         sync.RWMutex
	configPath string
	hub        HubConfig
	upstreams  []UpstreamDefinition
	groups     []GroupDefinition
	loadErrors *ConfigurationErrorCollection
}

// NewStore loads the configuration from configPath. Individual entity files
// that fail to parse are skipped and recorded; they do not fail the load.
func NewStore(configPath string) (*Store, error) {
	s := &Store{configPath: configPath}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads config.yaml and all entity files from disk.
func (s *Store) Reload() error {
	hub, err := LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	if err := ValidateHubConfig(&hub); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	upstreams, upErrs := LoadUpstreamDefinitions(s.configPath)
	groups, grpErrs := LoadGroupDefinitions(s.configPath)

	errs := NewConfigurationErrorCollection()
	errs.Errors = append(errs.Errors, upErrs.Errors...)
	errs.Errors = append(errs.Errors, grpErrs.Errors...)

	s.mu.Lock()
	s.hub = hub
	s.upstreams = upstreams
	s.groups = groups
	s.loadErrors = errs
	s.mu.Unlock()
	return nil
}

// ConfigPath returns the configuration directory the store reads from.
func (s *Store) ConfigPath() string {
	return s.configPath
}

// Hub returns a copy of the top-level configuration.
func (s *Store) Hub() HubConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

// LoadErrors returns the errors collected during the last reload.
func (s *Store) LoadErrors() *ConfigurationErrorCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErrors
}

// RawSettings returns the unfiltered configuration including every upstream
// and all secret material. Security checks (bearer key comparison, OAuth
// client secrets) must read this view: the filtered Settings view elides
// exactly the fields those checks depend on. Never serve RawSettings to a
// downstream caller.
func (s *Store) RawSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Settings{
		Hub:       s.hub,
		Upstreams: append([]UpstreamDefinition(nil), s.upstreams...),
		Groups:    append([]GroupDefinition(nil), s.groups...),
	}
}

// Settings returns the configuration as visible to the given user: shared
// upstreams plus the user's own, with bearer keys and OAuth client secrets
// blanked. An empty user sees only shared upstreams.
func (s *Store) Settings(user string) Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hub := s.hub
	hub.Auth.BearerKey = ""
	hub.Cluster.Redis.Password = ""

	var upstreams []UpstreamDefinition
	for _, def := range s.upstreams {
		if def.Owner != "" && def.Owner != user {
			continue
		}
		redacted := def
		if def.OAuth != nil {
			oauthCopy := *def.OAuth
			oauthCopy.ClientSecret = ""
			redacted.OAuth = &oauthCopy
		}
		upstreams = append(upstreams, redacted)
	}

	return Settings{
		Hub:       hub,
		Upstreams: upstreams,
		Groups:    append([]GroupDefinition(nil), s.groups...),
	}
}

// Upstream looks up an upstream definition by name in the raw view.
func (s *Store) Upstream(name string) (UpstreamDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, def := range s.upstreams {
		if def.Name == name {
			return def, true
		}
	}
	return UpstreamDefinition{}, false
}

// Group looks up a group definition by name.
func (s *Store) Group(name string) (GroupDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, def := range s.groups {
		if def.Name == name {
			return def, true
		}
	}
	return GroupDefinition{}, false
}

// Upstreams returns a copy of all upstream definitions.
func (s *Store) Upstreams() []UpstreamDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]UpstreamDefinition(nil), s.upstreams...)
}

// Groups returns a copy of all group definitions.
func (s *Store) Groups() []GroupDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GroupDefinition(nil), s.groups...)
}
