package account

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Size is the length of an account identifier in bytes
const Size = 32

// ErrInvalidID is returned when an account identifier cannot be parsed
var ErrInvalidID = errors.New("invalid account id")

// ID identifies a ledger account
type ID [Size]byte

// Parse decodes a hex account identifier, with or without a 0x prefix
func Parse(s string) (ID, error) {
	var id ID
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != Size*2 {
		return id, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalidID, Size*2, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return id, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the 0x-prefixed hex form
func (id ID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Bytes returns a copy of the identifier bytes
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// IsZero reports whether the identifier is all zeroes
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AccountID makes a plain account a transfer Target
func (id ID) AccountID() ID {
	return id
}

// AsTarget makes a plain account a transfer Source
func (id ID) AsTarget() Target {
	return id
}

// FromBytes builds an identifier from raw bytes. Shorter input is left-padded
// with zeroes, longer input keeps its trailing Size bytes.
func FromBytes(b []byte) ID {
	var id ID
	if len(b) > Size {
		b = b[len(b)-Size:]
	}
	copy(id[Size-len(b):], b)
	return id
}
