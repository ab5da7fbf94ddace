package track

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

// Window is a viewport on one sequence: features overlapping [Start, End)
// on a strand compatible with Strand.
type Window struct {
	Sequence string       `json:"sequence"`
	Strand   block.Strand `json:"strand"`
	Start    int64        `json:"start"`
	End      int64        `json:"end"`
}

// ParseWindow parses "seq", "seq:start-end" or "seq:start-end:strand".
// Commas in coordinates are ignored. A bare sequence name covers the whole
// sequence on any strand.
func ParseWindow(s string) (Window, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if parts[0] == "" || len(parts) > 3 {
		return Window{}, fmt.Errorf("invalid window %q", s)
	}
	w := Window{Sequence: parts[0], Strand: block.Any, Start: 0, End: math.MaxInt64}
	if len(parts) == 1 {
		return w, nil
	}

	lo, hi, ok := strings.Cut(parts[1], "-")
	if !ok {
		return Window{}, fmt.Errorf("invalid window %q: want start-end", s)
	}
	var err error
	if w.Start, err = parseCoord(lo); err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if w.End, err = parseCoord(hi); err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if len(parts) == 3 {
		w.Strand = block.ParseStrand(parts[2])
	}
	return w, w.Validate()
}

func parseCoord(s string) (int64, error) {
	return strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 10, 64)
}

// Validate reports an empty sequence or an inverted interval.
func (w Window) Validate() error {
	if w.Sequence == "" {
		return fmt.Errorf("window has no sequence")
	}
	if w.End < w.Start {
		return fmt.Errorf("window %s: end before start", w)
	}
	return nil
}

func (w Window) String() string {
	if w.End == math.MaxInt64 {
		return fmt.Sprintf("%s:%d-:%s", w.Sequence, w.Start, w.Strand.Abbrev())
	}
	return fmt.Sprintf("%s:%d-%d:%s", w.Sequence, w.Start, w.End, w.Strand.Abbrev())
}
