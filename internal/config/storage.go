package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mcphub/pkg/logging"
)

// ErrNotFound marks Load and Delete failures for entities that do not exist.
// Callers distinguish a missing entity from an IO failure with errors.Is.
var ErrNotFound = errors.New("not found")

// Storage provides file-backed persistence for dynamic entities (upstreams,
// groups, oauth state) under a single configuration directory.
type Storage struct {
	mu         sync.RWMutex
	configPath string // when empty, the default config dir is used
}

// NewStorage creates a Storage rooted at the default configuration directory.
func NewStorage() *Storage {
	return &Storage{}
}

// NewStorageWithPath creates a Storage rooted at a custom directory.
func NewStorageWithPath(configPath string) *Storage {
	return &Storage{configPath: configPath}
}

// Save writes data for the given entity type and name as
// <configDir>/<entityType>/<name>.yaml.
func (s *Storage) Save(entityType, name string, data []byte) error {
	if err := checkEntityArgs(entityType, name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	targetDir := filepath.Join(s.configDir(), entityType)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", targetDir, err)
	}

	filePath := filepath.Join(targetDir, SanitizeFilename(name)+".yaml")
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}

	logging.Debug("Storage", "Saved %s/%s to %s", entityType, name, filePath)
	return nil
}

// Load reads data for the given entity type and name.
func (s *Storage) Load(entityType, name string) ([]byte, error) {
	if err := checkEntityArgs(entityType, name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := filepath.Join(s.configDir(), entityType, SanitizeFilename(name)+".yaml")
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("entity %s/%s %w", entityType, name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	return data, nil
}

// Delete removes the file for the given entity type and name.
func (s *Storage) Delete(entityType, name string) error {
	if err := checkEntityArgs(entityType, name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := filepath.Join(s.configDir(), entityType, SanitizeFilename(name)+".yaml")
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("entity %s/%s %w", entityType, name, ErrNotFound)
	}
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}

	logging.Debug("Storage", "Deleted %s/%s from %s", entityType, name, filePath)
	return nil
}

// List returns the names of all stored entities of the given type.
func (s *Storage) List(entityType string) ([]string, error) {
	if entityType == "" {
		return nil, fmt.Errorf("entityType cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	files := listEntityFiles(filepath.Join(s.configDir(), entityType))
	names := make([]string, 0, len(files))
	for _, filePath := range files {
		names = append(names, entityNameFromFile(filePath))
	}
	return names, nil
}

func (s *Storage) configDir() string {
	if s.configPath != "" {
		return s.configPath
	}
	return GetDefaultConfigPathOrPanic()
}

func checkEntityArgs(entityType, name string) error {
	if entityType == "" {
		return fmt.Errorf("entityType cannot be empty")
	}
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", ".", "_", " ", "_",
)

// SanitizeFilename maps an entity name to a filesystem-safe base name.
func SanitizeFilename(name string) string {
	sanitized := filenameReplacer.Replace(name)
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		return "unnamed"
	}
	return sanitized
}
