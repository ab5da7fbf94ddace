package block

import (
	"strconv"
	"strings"
)

// Strand indicates a strand of double stranded nucleic acid. None means the
// data has no strand specificity (e.g. ChIP-chip); Any matches every strand.
type Strand int8

const (
	None Strand = iota
	Forward
	Reverse
	Any
)

// ParseStrand converts the persisted or user-entered form of a strand.
// Unrecognized values map to None.
func ParseStrand(s string) Strand {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "+", "for", "forward":
		return Forward
	case "-", "rev", "reverse":
		return Reverse
	case "*", "any":
		return Any
	case "", ".", "none":
		return None
	}
	if i, err := strconv.Atoi(s); err == nil {
		switch i {
		case 1:
			return Forward
		case -1:
			return Reverse
		}
	}
	return None
}

// Abbrev returns the single-character form stored in feature tables.
func (s Strand) Abbrev() string {
	switch s {
	case Forward:
		return "+"
	case Reverse:
		return "-"
	case Any:
		return "*"
	default:
		return "."
	}
}

func (s Strand) String() string {
	switch s {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	case Any:
		return "any"
	default:
		return "none"
	}
}

// Compatible reports whether two strands match, treating Any as a wildcard
// on either side.
func (s Strand) Compatible(other Strand) bool {
	return s == other || s == Any || other == Any
}

// Encompasses reports whether s selects features on the other strand.
func (s Strand) Encompasses(other Strand) bool {
	return s == other || s == Any
}

// Expand lists the concrete strands selected by s.
func (s Strand) Expand() []Strand {
	if s == Any {
		return []Strand{Forward, Reverse, None}
	}
	return []Strand{s}
}

// Rank orders strands the way feature tables are sorted: + before - before .
func (s Strand) Rank() int {
	switch s {
	case Forward:
		return 0
	case Reverse:
		return 1
	case None:
		return 2
	default:
		return 3
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strand) MarshalText() ([]byte, error) {
	return []byte(s.Abbrev()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strand) UnmarshalText(b []byte) error {
	*s = ParseStrand(string(b))
	return nil
}
