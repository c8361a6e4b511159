package account

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	hex64 := strings.Repeat("ab", Size)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain hex", hex64, false},
		{"prefixed", "0x" + hex64, false},
		{"surrounding spaces", "  " + hex64 + " ", false},
		{"too short", "abcd", true},
		{"not hex", strings.Repeat("zz", Size), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidID) {
					t.Fatalf("Parse(%q) error = %v, want ErrInvalidID", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if id.String() != "0x"+hex64 {
				t.Errorf("String() = %s, want 0x%s", id, hex64)
			}
		})
	}
}

func TestIDJSON(t *testing.T) {
	id := FromBytes([]byte{1, 2, 3})

	data, err := json.Marshal(map[string]ID{"who": id})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["who"] != id {
		t.Errorf("decoded = %s, want %s", decoded["who"], id)
	}
}

func TestFromBytes(t *testing.T) {
	id := FromBytes([]byte{7})
	if id[Size-1] != 7 {
		t.Errorf("last byte = %d, want 7", id[Size-1])
	}
	if id.IsZero() {
		t.Error("IsZero() = true, want false")
	}

	long := make([]byte, Size+4)
	long[Size+3] = 9
	if got := FromBytes(long); got[Size-1] != 9 {
		t.Errorf("long input last byte = %d, want 9", got[Size-1])
	}

	if !(ID{}).IsZero() {
		t.Error("zero ID IsZero() = false")
	}
}

func TestRoles(t *testing.T) {
	id := FromBytes([]byte{42})

	var src Source = id
	var dst Target = id

	if src.AsTarget().AccountID() != id {
		t.Error("Source does not resolve to itself")
	}
	if dst.AccountID() != id {
		t.Error("Target does not resolve to itself")
	}
}
