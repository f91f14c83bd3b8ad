package rewrite

import "fmt"

// ConfigurationError reports a rule set or charset that cannot be used.
// It is returned from New and Init and never reaches a client.
type ConfigurationError struct {
	Pattern string // empty when the error is not tied to a rule
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("rewrite: invalid pattern %q: %v", e.Pattern, e.Err)
	}
	return fmt.Sprintf("rewrite: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SubstitutionError fails a single request: a pattern that does not compile
// on first use, or rewritten text the configured charset cannot represent.
type SubstitutionError struct {
	Pattern string
	Err     error
}

func (e *SubstitutionError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("rewrite: substitution with pattern %q failed: %v", e.Pattern, e.Err)
	}
	return fmt.Sprintf("rewrite: substitution failed: %v", e.Err)
}

func (e *SubstitutionError) Unwrap() error { return e.Err }
