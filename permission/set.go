package permission

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// ErrUnexpectedShape is returned when a permissions payload is neither a
// boolean nor a list of strings.
var ErrUnexpectedShape = errors.New("permissions payload has unexpected shape")

// Set is the authorization decision for one session. The zero value grants
// nothing.
type Set struct {
	superuser bool
	codes     map[string]struct{}
}

// All returns the superuser Set.
func All() Set {
	return Set{superuser: true}
}

// Of returns a Set holding codes. Blank codes are dropped.
func Of(codes ...string) Set {
	s := Set{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		s.codes[c] = struct{}{}
	}
	return s
}

// Superuser reports whether the Set grants every code.
func (s Set) Superuser() bool {
	return s.superuser
}

// Has reports whether code is granted.
func (s Set) Has(code string) bool {
	if s.superuser {
		return true
	}
	_, ok := s.codes[code]
	return ok
}

// Len returns the number of explicit codes. Superuser sets report 0.
func (s Set) Len() int {
	return len(s.codes)
}

// Codes returns the explicit codes in sorted order.
func (s Set) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s Set) String() string {
	if s.superuser {
		return "*"
	}
	return strings.Join(s.Codes(), ",")
}

// MarshalJSON renders the wire form: true for superuser, else a list.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.superuser {
		return []byte("true"), nil
	}
	return json.Marshal(s.Codes())
}

// UnmarshalJSON accepts true, false (empty set) or an array of strings.
// A null element is rejected.
func (s *Set) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*s = All()
		return nil
	case bytes.Equal(data, []byte("false")):
		*s = Of()
		return nil
	case len(data) > 0 && data[0] == '[':
		var raw []*string
		if err := json.Unmarshal(data, &raw); err != nil {
			return ErrUnexpectedShape
		}
		codes := make([]string, 0, len(raw))
		for _, c := range raw {
			if c == nil {
				return ErrUnexpectedShape
			}
			codes = append(codes, *c)
		}
		*s = Of(codes...)
		return nil
	default:
		return ErrUnexpectedShape
	}
}
