package types

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// ID identifies a mission or execution. Externally assigned mission IDs are free-form
// tokens (for example "m1" or "audit-123456789012-20260101"), while IDs generated by
// Hive itself are UUID v4 strings.
type ID string

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// NewID generates a new UUID v4 and returns it as an ID.
func NewID() ID {
	return ID(uuid.New().String())
}

// ParseID validates s and returns it as an ID.
func ParseID(s string) (ID, error) {
	id := ID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks that the ID is non-empty and only contains characters that are
// safe to use as a storage key, an environment variable value and a blob prefix.
func (id ID) Validate() error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if !idPattern.MatchString(string(id)) {
		return fmt.Errorf("invalid ID %q: must match %s", string(id), idPattern.String())
	}
	return nil
}

// IsUUID reports whether the ID is a UUID generated by NewID.
func (id ID) IsUUID() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return string(id)
}

// IsZero checks if the ID is empty or zero-valued.
func (id ID) IsZero() bool {
	return id == ""
}

// MarshalJSON implements the json.Marshaler interface.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
// It deserializes a JSON string into an ID and validates it.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to unmarshal ID: %w", err)
	}

	// Allow null/empty to set zero value
	if s == nil || *s == "" {
		*id = ""
		return nil
	}

	parsed, err := ParseID(*s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
