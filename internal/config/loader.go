package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"mcphub/pkg/logging"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the hub configuration from a single directory. The
// directory holds config.yaml plus the upstreams/ and groups/ entity
// subdirectories.
func LoadConfig(configPath string) (HubConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return HubConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return HubConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	applyEnvOverrides(&config)
	if config.NameSeparator == "" {
		config.NameSeparator = DefaultNameSeparator
	}
	if config.Auth.UserHeader == "" {
		config.Auth.UserHeader = DefaultUserHeader
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// LoadUpstreamDefinitions loads every upstream definition from
// <configDir>/upstreams. String fields are environment-expanded. Files that
// fail to parse or validate are collected as errors; valid definitions still
// load.
func LoadUpstreamDefinitions(configPath string) ([]UpstreamDefinition, *ConfigurationErrorCollection) {
	errs := NewConfigurationErrorCollection()
	files := listEntityFiles(filepath.Join(configPath, UpstreamsDir))

	var defs []UpstreamDefinition
	seen := make(map[string]string)
	for _, filePath := range files {
		data, err := os.ReadFile(filePath)
		if err != nil {
			errs.Add(filePath, UpstreamsDir, "io", err.Error())
			continue
		}

		var def UpstreamDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			errs.Add(filePath, UpstreamsDir, "parse", err.Error())
			continue
		}
		if def.Name == "" {
			def.Name = entityNameFromFile(filePath)
		}
		ExpandUpstreamDefinition(&def)
		if err := ValidateUpstreamDefinition(&def); err != nil {
			errs.Add(filePath, UpstreamsDir, "validation", err.Error())
			continue
		}
		if prev, dup := seen[def.Name]; dup {
			errs.Add(filePath, UpstreamsDir, "validation",
				fmt.Sprintf("duplicate upstream name %q (already defined in %s)", def.Name, prev))
			continue
		}
		seen[def.Name] = filePath
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	logging.Info("ConfigLoader", "Loaded %d upstream definitions from %s", len(defs), configPath)
	return defs, errs
}

// LoadGroupDefinitions loads every group definition from <configDir>/groups.
func LoadGroupDefinitions(configPath string) ([]GroupDefinition, *ConfigurationErrorCollection) {
	errs := NewConfigurationErrorCollection()
	files := listEntityFiles(filepath.Join(configPath, GroupsDir))

	var defs []GroupDefinition
	seen := make(map[string]string)
	for _, filePath := range files {
		data, err := os.ReadFile(filePath)
		if err != nil {
			errs.Add(filePath, GroupsDir, "io", err.Error())
			continue
		}

		var def GroupDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			errs.Add(filePath, GroupsDir, "parse", err.Error())
			continue
		}
		if def.Name == "" {
			def.Name = entityNameFromFile(filePath)
		}
		if err := ValidateGroupDefinition(&def); err != nil {
			errs.Add(filePath, GroupsDir, "validation", err.Error())
			continue
		}
		if prev, dup := seen[def.Name]; dup {
			errs.Add(filePath, GroupsDir, "validation",
				fmt.Sprintf("duplicate group name %q (already defined in %s)", def.Name, prev))
			continue
		}
		seen[def.Name] = filePath
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, errs
}

// listEntityFiles returns every .yaml/.yml file in dirPath, sorted. A missing
// directory yields an empty list.
func listEntityFiles(dirPath string) []string {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dirPath, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files
}

func entityNameFromFile(filePath string) string {
	base := filepath.Base(filePath)
	return base[:len(base)-len(filepath.Ext(base))]
}
