package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ConfigurationError is a structured error raised while loading one
// configuration file.
type ConfigurationError struct {
	FilePath  string `json:"filePath"`  // Full path to the file that caused the error
	FileName  string `json:"fileName"`  // Base name of the file
	Category  string `json:"category"`  // Entity category (upstreams, groups, oauth)
	ErrorType string `json:"errorType"` // parse, validation, io
	Message   string `json:"message"`   // Human-readable error message
}

// Error implements the error interface.
func (ce ConfigurationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ce.Category, ce.FileName, ce.Message)
}

// ConfigurationErrorCollection holds the errors collected during a load pass.
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

// NewConfigurationErrorCollection creates an empty collection.
func NewConfigurationErrorCollection() *ConfigurationErrorCollection {
	return &ConfigurationErrorCollection{Errors: make([]ConfigurationError, 0)}
}

// Error implements the error interface for the collection.
func (cec *ConfigurationErrorCollection) Error() string {
	switch len(cec.Errors) {
	case 0:
		return "no configuration errors"
	case 1:
		return cec.Errors[0].Error()
	default:
		return fmt.Sprintf("%d configuration errors: %s (and %d more)",
			len(cec.Errors), cec.Errors[0].Error(), len(cec.Errors)-1)
	}
}

// HasErrors reports whether the collection holds any error.
func (cec *ConfigurationErrorCollection) HasErrors() bool {
	return len(cec.Errors) > 0
}

// Add records an error for the given file.
func (cec *ConfigurationErrorCollection) Add(filePath, category, errorType, message string) {
	cec.Errors = append(cec.Errors, ConfigurationError{
		FilePath:  filePath,
		FileName:  filepath.Base(filePath),
		Category:  category,
		ErrorType: errorType,
		Message:   message,
	})
}

// Summary returns a one-line-per-error report.
func (cec *ConfigurationErrorCollection) Summary() string {
	if len(cec.Errors) == 0 {
		return "No configuration errors"
	}
	parts := make([]string, 0, len(cec.Errors)+1)
	parts = append(parts, fmt.Sprintf("Configuration errors (%d):", len(cec.Errors)))
	for _, err := range cec.Errors {
		parts = append(parts, "  - "+err.Error())
	}
	return strings.Join(parts, "\n")
}

// ValidationError is a field-level validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}
