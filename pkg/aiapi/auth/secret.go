package auth

const redacted = "**********"

// Secret holds credential material. Every formatting and serialization path
// renders it redacted; only Reveal returns the underlying value.
type Secret struct {
	value string
}

// NewSecret wraps value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the raw secret for use in outbound request headers.
func (s Secret) Reveal() string {
	return s.value
}

// IsZero reports whether no secret is set.
func (s Secret) IsZero() bool {
	return s.value == ""
}

func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return "auth.Secret(" + s.String() + ")"
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
