package config

import (
	"fmt"
	"strings"
)

var validKinds = []UpstreamKind{
	UpstreamKindStdio,
	UpstreamKindSSE,
	UpstreamKindStreamableHTTP,
	UpstreamKindOpenAPI,
}

// ValidateUpstreamDefinition checks that a definition is internally
// consistent for its kind.
func ValidateUpstreamDefinition(def *UpstreamDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return ValidationError{Field: "name", Message: "is required"}
	}
	if strings.ContainsAny(def.Name, " /\\") {
		return ValidationError{Field: "name", Value: def.Name, Message: "must not contain spaces or path separators"}
	}

	kindValid := false
	for _, k := range validKinds {
		if def.Kind == k {
			kindValid = true
			break
		}
	}
	if !kindValid {
		return ValidationError{Field: "kind", Value: string(def.Kind),
			Message: fmt.Sprintf("must be one of: %s", joinKinds(validKinds))}
	}

	switch def.Kind {
	case UpstreamKindStdio:
		if def.Command == "" {
			return ValidationError{Field: "command", Message: "is required for stdio upstreams"}
		}
	case UpstreamKindSSE, UpstreamKindStreamableHTTP:
		if def.URL == "" {
			return ValidationError{Field: "url", Message: fmt.Sprintf("is required for %s upstreams", def.Kind)}
		}
	case UpstreamKindOpenAPI:
		if def.OpenAPI == nil || (def.OpenAPI.SpecURL == "" && def.OpenAPI.SpecInline == "") {
			return ValidationError{Field: "openapi", Message: "requires specUrl or specInline"}
		}
	}

	if def.ConnectionMode != "" &&
		def.ConnectionMode != ConnectionModePersistent &&
		def.ConnectionMode != ConnectionModeOnDemand {
		return ValidationError{Field: "connectionMode", Value: def.ConnectionMode,
			Message: "must be persistent or on-demand"}
	}
	return nil
}

// ValidateGroupDefinition checks a group definition.
func ValidateGroupDefinition(def *GroupDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return ValidationError{Field: "name", Message: "is required"}
	}
	if strings.HasPrefix(def.Name, "$") {
		return ValidationError{Field: "name", Value: def.Name, Message: "must not start with $"}
	}
	for i, srv := range def.Servers {
		if strings.TrimSpace(srv.Name) == "" {
			return ValidationError{Field: fmt.Sprintf("servers[%d].name", i), Message: "is required"}
		}
	}
	return nil
}

// ValidateHubConfig checks the top-level configuration.
func ValidateHubConfig(cfg *HubConfig) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return ValidationError{Field: "port", Value: cfg.Port, Message: "must be between 0 and 65535"}
	}
	switch cfg.Transport {
	case "", TransportStreamableHTTP, TransportSSE, TransportStdio:
	default:
		return ValidationError{Field: "transport", Value: cfg.Transport,
			Message: fmt.Sprintf("must be one of: %s, %s, %s", TransportStreamableHTTP, TransportSSE, TransportStdio)}
	}
	switch cfg.Cluster.Type {
	case "", "memory", "redis":
	default:
		return ValidationError{Field: "cluster.type", Value: cfg.Cluster.Type,
			Message: "must be memory or redis"}
	}
	if cfg.Cluster.Type == "redis" && cfg.Cluster.Redis.Addr == "" {
		return ValidationError{Field: "cluster.redis.addr", Message: "is required when cluster.type is redis"}
	}
	if cfg.BasePath != "" && !strings.HasPrefix(cfg.BasePath, "/") {
		return ValidationError{Field: "basePath", Value: cfg.BasePath, Message: "must start with /"}
	}
	return nil
}

func joinKinds(kinds []UpstreamKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
