package block

import (
	"errors"
	"fmt"
)

// ErrUnknownShape is returned for track types without a block encoding.
var ErrUnknownShape = errors.New("unknown track type")

// Shape identifies one of the on-disk row encodings of a block-based track.
type Shape int

const (
	ShapePositional Shape = iota + 1
	ShapeSegment
	ShapeSegmentMatrix
	ShapePositionalPvalue
	ShapePeptide
)

var shapeTypes = map[Shape]string{
	ShapePositional:       "quantitative.positional",
	ShapeSegment:          "quantitative.segment",
	ShapeSegmentMatrix:    "quantitative.segment.matrix",
	ShapePositionalPvalue: "quantitative.positional.p.value",
	ShapePeptide:          "peptide",
}

// Shapes lists every supported shape.
var Shapes = []Shape{ShapePositional, ShapeSegment, ShapeSegmentMatrix, ShapePositionalPvalue, ShapePeptide}

// ParseShape maps a track type string (as stored in the tracks table) to its shape.
func ParseShape(trackType string) (Shape, error) {
	for s, t := range shapeTypes {
		if t == trackType {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownShape, trackType)
}

// TrackType returns the track type string stored for this shape.
func (s Shape) TrackType() string {
	return shapeTypes[s]
}

func (s Shape) String() string {
	if t, ok := shapeTypes[s]; ok {
		return t
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// IsPositional reports whether rows carry a single position rather than a
// start/end pair.
func (s Shape) IsPositional() bool {
	return s == ShapePositional || s == ShapePositionalPvalue
}

// IsQuantitative reports whether rows carry a numeric value.
func (s Shape) IsQuantitative() bool {
	return s != ShapePeptide
}
