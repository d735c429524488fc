package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ID identifies an entity. It is a tagged union: either a permanent,
// server-issued numeric identifier, or a temporary device-local UUID minted
// while offline. The two namespaces are disjoint by construction; a temporary
// ID never compares equal to a permanent one.
//
// Canonical string form: permanent IDs are decimal digits ("57"), temporary
// IDs carry a "tmp:" prefix ("tmp:2f1c...-..."). The zero ID renders as "".
type ID struct {
	perm int64
	temp string
}

// PermanentID wraps a server-issued identifier.
func PermanentID(n int64) ID {
	return ID{perm: n}
}

// NewTemporaryID mints a fresh device-local identifier.
func NewTemporaryID() ID {
	return ID{temp: uuid.NewString()}
}

// TemporaryID wraps an existing temporary identifier value.
func TemporaryID(u string) ID {
	return ID{temp: u}
}

// ParseID parses the canonical string form.
func ParseID(s string) (ID, error) {
	if s == "" {
		return ID{}, nil
	}
	if rest, ok := strings.CutPrefix(s, "tmp:"); ok {
		if _, err := uuid.Parse(rest); err != nil {
			return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
		}
		return ID{temp: rest}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{perm: n}, nil
}

// IsTemporary reports whether the ID was minted locally.
func (id ID) IsTemporary() bool { return id.temp != "" }

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id.perm == 0 && id.temp == "" }

// Permanent returns the server-issued value when the ID is permanent.
func (id ID) Permanent() (int64, bool) {
	if id.perm != 0 {
		return id.perm, true
	}
	return 0, false
}

// String returns the canonical string form.
func (id ID) String() string {
	switch {
	case id.temp != "":
		return "tmp:" + id.temp
	case id.perm != 0:
		return strconv.FormatInt(id.perm, 10)
	default:
		return ""
	}
}

// MarshalJSON encodes the canonical string form.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(id.String())), nil
}

// UnmarshalJSON accepts the canonical string form and, for compatibility with
// server payloads, bare JSON numbers.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) > 0 && s[0] != '"' {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidID, s)
		}
		*id = PermanentID(n)
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidID, s)
	}
	parsed, err := ParseID(unquoted)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
