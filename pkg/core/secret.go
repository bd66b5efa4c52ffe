package core

import (
	"encoding/json"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// Secret represents sensitive values that should be redacted in API and log output.
type Secret struct {
	Value string
}

// NewSecret wraps a raw value as a Secret.
func NewSecret(value string) Secret {
	return Secret{Value: value}
}

// Redacted returns a redacted representation for display.
func (s Secret) Redacted() string {
	if s.Value == "" {
		return ""
	}
	return "REDACTED"
}

// IsZero reports whether the secret is unset.
func (s Secret) IsZero() bool {
	return s.Value == ""
}

// MarshalJSON ensures secrets are never serialized in cleartext.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Redacted())
}

// UnmarshalYAML reads a plain scalar, so config sections can declare Secret fields.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	s.Value = raw
	return nil
}

// LogValue keeps tokens out of slog output.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.Redacted())
}

// String returns the redacted value for fmt printing.
func (s Secret) String() string {
	return s.Redacted()
}

// DecodeConfigSection decodes a config section into a struct.
// It is safe to call with a nil or empty section.
func DecodeConfigSection(section map[string]any, out any) error {
	if len(section) == 0 {
		return nil
	}
	data, err := yaml.Marshal(section)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
