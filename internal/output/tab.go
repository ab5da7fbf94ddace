// Package output provides feature output formatters.
package output

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

// TabWriter writes features in tab-delimited format, one row per feature,
// with the columns of the track's shape.
type TabWriter struct {
	w       *bufio.Writer
	shape   block.Shape
	columns []string
}

// NewTabWriter creates a new tab-delimited writer for features of shape.
// width is the number of value columns of a segment matrix track and is
// ignored for other shapes.
func NewTabWriter(w io.Writer, shape block.Shape, width int) *TabWriter {
	columns := []string{"#sequence", "strand"}
	switch shape {
	case block.ShapePositional:
		columns = append(columns, "position", "value")
	case block.ShapePositionalPvalue:
		columns = append(columns, "position", "value", "p_value")
	case block.ShapeSegment:
		columns = append(columns, "start", "end", "value")
	case block.ShapeSegmentMatrix:
		columns = append(columns, "start", "end")
		for i := range width {
			columns = append(columns, fmt.Sprintf("value%d", i))
		}
	case block.ShapePeptide:
		columns = append(columns, "start", "end", "name", "common_name", "score", "redundancy")
	default:
		columns = append(columns, "start", "end", "label")
	}
	return &TabWriter{w: bufio.NewWriter(w), shape: shape, columns: columns}
}

// Columns returns the header fields.
func (tw *TabWriter) Columns() []string {
	return tw.columns
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(tw.columns, "\t") + "\n")
	return err
}

// Write writes a single feature.
func (tw *TabWriter) Write(r block.Record) error {
	values := []string{r.Sequence, r.Strand.Abbrev()}
	switch tw.shape {
	case block.ShapePositional:
		values = append(values, itoa(r.Start), ftoa(r.Value))
	case block.ShapePositionalPvalue:
		values = append(values, itoa(r.Start), ftoa(r.Value), ftoa(r.Pvalue))
	case block.ShapeSegment:
		values = append(values, itoa(r.Start), itoa(r.End), ftoa(r.Value))
	case block.ShapeSegmentMatrix:
		values = append(values, itoa(r.Start), itoa(r.End))
		for i := range len(tw.columns) - 4 {
			if i < len(r.Values) {
				values = append(values, ftoa(&r.Values[i]))
			} else {
				values = append(values, "-")
			}
		}
	case block.ShapePeptide:
		redundancy := "-"
		if r.Redundancy != nil {
			redundancy = itoa(*r.Redundancy)
		}
		values = append(values, itoa(r.Start), itoa(r.End),
			orDash(r.Name), orDash(r.CommonName), ftoa(r.Score), redundancy)
	default:
		values = append(values, itoa(r.Start), itoa(r.End), orDash(r.Label))
	}

	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func ftoa(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
