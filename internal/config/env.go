package config

import (
	"os"
)

// ExpandString expands ${VAR} and $VAR references against the process
// environment. Unknown variables expand to the empty string. Strings without
// a $ pass through unchanged.
func ExpandString(s string) string {
	return os.Expand(s, os.Getenv)
}

// ExpandStringMap expands every value in the map in place.
func ExpandStringMap(m map[string]string) {
	for k, v := range m {
		m[k] = ExpandString(v)
	}
}

// ExpandStringSlice expands every element in place.
func ExpandStringSlice(s []string) {
	for i, v := range s {
		s[i] = ExpandString(v)
	}
}

// ExpandValue recursively expands environment references in an arbitrarily
// nested structure of maps, slices and strings, returning the expanded copy.
// Non-string leaves pass through unchanged.
func ExpandValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return ExpandString(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = ExpandValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = ExpandValue(val)
		}
		return out
	default:
		return v
	}
}

// ExpandUpstreamDefinition expands every string-valued field of the
// definition in place.
func ExpandUpstreamDefinition(def *UpstreamDefinition) {
	def.URL = ExpandString(def.URL)
	def.Command = ExpandString(def.Command)
	ExpandStringMap(def.Headers)
	ExpandStringMap(def.Env)
	ExpandStringSlice(def.Args)
	if def.OAuth != nil {
		def.OAuth.ClientID = ExpandString(def.OAuth.ClientID)
		def.OAuth.ClientSecret = ExpandString(def.OAuth.ClientSecret)
		def.OAuth.Scopes = ExpandString(def.OAuth.Scopes)
		ExpandStringSlice(def.OAuth.RedirectURIs)
		def.OAuth.AuthorizationEndpoint = ExpandString(def.OAuth.AuthorizationEndpoint)
		def.OAuth.TokenEndpoint = ExpandString(def.OAuth.TokenEndpoint)
	}
	if def.OpenAPI != nil {
		def.OpenAPI.SpecURL = ExpandString(def.OpenAPI.SpecURL)
		def.OpenAPI.BaseURL = ExpandString(def.OpenAPI.BaseURL)
	}
}
