package auth

const secretRedacted = "[REDACTED]"

// Secret holds key material. It formats as [REDACTED] under fmt, %#v,
// slog and text marshaling so it cannot leak into logs. Use Value for the
// raw string.
type Secret string

func (s Secret) String() string { return secretRedacted }

func (s Secret) GoString() string { return secretRedacted }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted form.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }
