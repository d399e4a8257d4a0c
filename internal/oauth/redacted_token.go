package oauth

// redactedPlaceholder replaces secret material in any formatted output.
const redactedPlaceholder = "[REDACTED]"

// RedactedToken wraps a secret so it cannot leak through logging or
// serialization. Every formatting path yields the placeholder; the secret is
// only reachable through Value.
type RedactedToken struct {
	value string
}

// NewRedactedToken wraps a secret value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the underlying secret.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty reports whether the wrapped value is empty.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

// String implements fmt.Stringer, hiding the secret from %s and %v.
func (t RedactedToken) String() string {
	return redactedPlaceholder
}

// GoString implements fmt.GoStringer, hiding the secret from %#v.
func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{value: \"" + redactedPlaceholder + "\"}"
}

// MarshalText hides the secret from text encoders.
func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte(redactedPlaceholder), nil
}

// MarshalJSON hides the secret from JSON encoders.
func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}
