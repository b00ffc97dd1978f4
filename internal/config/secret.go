package config

// Secret holds a sensitive string that must never appear in logs,
// error messages, or serialized output. Access the raw value only
// through Value(), at the point of use.
type Secret string

// Value returns the raw secret.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return s != ""
}

// String implements fmt.Stringer, redacting the value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// MarshalJSON redacts the value in JSON output.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// MarshalText redacts the value in text output.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
