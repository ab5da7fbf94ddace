package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

// Attribute keys holding a track's cached value range.
const (
	AttrMinValue = "min.value"
	AttrMaxValue = "max.value"
)

// TrackInfo is a row of the tracks table.
type TrackInfo struct {
	UUID  uuid.UUID `db:"uuid" json:"uuid"`
	Name  string    `db:"name" json:"name"`
	Type  string    `db:"type" json:"type"`
	Table string    `db:"table_name" json:"table"`
}

// Shape returns the block encoding of the track's feature table.
func (t TrackInfo) Shape() (block.Shape, error) {
	return block.ParseShape(t.Type)
}

// Sequence is a row of the sequences table.
type Sequence struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Length int64  `db:"length" json:"length"`
}

// Tracks lists all tracks ordered by name.
func (s *Store) Tracks(ctx context.Context) ([]TrackInfo, error) {
	var tracks []TrackInfo
	if err := s.x.SelectContext(ctx, &tracks,
		`SELECT uuid, name, type, table_name FROM tracks ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	return tracks, nil
}

// TrackByName looks up a track by its unique name.
func (s *Store) TrackByName(ctx context.Context, name string) (TrackInfo, error) {
	return s.track(ctx, `name = ?`, name)
}

// TrackByID looks up a track by uuid.
func (s *Store) TrackByID(ctx context.Context, id uuid.UUID) (TrackInfo, error) {
	return s.track(ctx, `uuid = ?`, id.String())
}

func (s *Store) track(ctx context.Context, where string, arg any) (TrackInfo, error) {
	var t TrackInfo
	err := s.x.GetContext(ctx, &t, `SELECT uuid, name, type, table_name FROM tracks WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackInfo{}, fmt.Errorf("%w: %v", ErrTrackNotFound, arg)
	}
	if err != nil {
		return TrackInfo{}, fmt.Errorf("get track %v: %w", arg, err)
	}
	return t, nil
}

// Sequences lists all sequences ordered by id.
func (s *Store) Sequences(ctx context.Context) ([]Sequence, error) {
	var seqs []Sequence
	if err := s.x.SelectContext(ctx, &seqs, `SELECT id, name, length FROM sequences ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	return seqs, nil
}

// Attributes returns all attributes of a track.
func (s *Store) Attributes(ctx context.Context, trackID uuid.UUID) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM track_attributes WHERE tracks_uuid = ?`, trackID.String())
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributes: %w", err)
	}
	return attrs, nil
}

// SetAttribute stores or replaces one attribute of a track.
func (s *Store) SetAttribute(ctx context.Context, trackID uuid.UUID, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO track_attributes VALUES (?, ?, ?)`, trackID.String(), key, value); err != nil {
		return fmt.Errorf("set attribute %s: %w", key, err)
	}
	return nil
}

// ValueRange returns the span of values of a quantitative track, computing it
// from the feature table and caching it as track attributes on first use.
// Matrix tracks take the union over every value column.
func (s *Store) ValueRange(ctx context.Context, info TrackInfo) (block.Range, error) {
	attrs, err := s.Attributes(ctx, info.UUID)
	if err != nil {
		return block.Range{}, err
	}
	if r, ok := parseRange(attrs); ok {
		return r, nil
	}

	shape, err := info.Shape()
	if err != nil {
		return block.Range{}, err
	}
	if !shape.IsQuantitative() {
		return block.Range{}, fmt.Errorf("track %s has no values", info.Name)
	}
	if err := checkIdent(info.Table); err != nil {
		return block.Range{}, err
	}

	cols := []string{"value"}
	if shape == block.ShapeSegmentMatrix {
		if cols, err = s.matrixColumns(ctx, info.Table); err != nil {
			return block.Range{}, err
		}
	}
	exprs := make([]string, 0, 2*len(cols))
	for _, c := range cols {
		exprs = append(exprs, "min("+quoteIdent(c)+")", "max("+quoteIdent(c)+")")
	}
	bounds := make([]sql.NullFloat64, len(exprs))
	dest := make([]any, len(bounds))
	for i := range bounds {
		dest[i] = &bounds[i]
	}
	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(exprs, ", "), quoteIdent(info.Table))
	if err := s.db.QueryRowContext(ctx, q).Scan(dest...); err != nil {
		return block.Range{}, fmt.Errorf("compute value range of %s: %w", info.Name, err)
	}

	var r block.Range
	found := false
	for i := 0; i < len(bounds); i += 2 {
		if !bounds[i].Valid {
			continue
		}
		c := block.Range{Min: bounds[i].Float64, Max: bounds[i+1].Float64}
		if found {
			r = r.Union(c)
		} else {
			r, found = c, true
		}
	}
	if !found {
		return block.Range{}, nil
	}

	if err := s.SetAttribute(ctx, info.UUID, AttrMinValue, strconv.FormatFloat(r.Min, 'g', -1, 64)); err != nil {
		return r, err
	}
	if err := s.SetAttribute(ctx, info.UUID, AttrMaxValue, strconv.FormatFloat(r.Max, 'g', -1, 64)); err != nil {
		return r, err
	}
	return r, nil
}

func parseRange(attrs map[string]string) (block.Range, bool) {
	lo, okLo := attrs[AttrMinValue]
	hi, okHi := attrs[AttrMaxValue]
	if !okLo || !okHi {
		return block.Range{}, false
	}
	minV, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return block.Range{}, false
	}
	maxV, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return block.Range{}, false
	}
	return block.Range{Min: minV, Max: maxV}, true
}

// DeleteTrack removes a track, its attributes, its block index and its
// feature table.
func (s *Store) DeleteTrack(ctx context.Context, info TrackInfo) error {
	if err := checkIdent(info.Table); err != nil {
		return err
	}
	id := info.UUID.String()
	stmts := []struct {
		q    string
		args []any
	}{
		{`DELETE FROM block_index WHERE tracks_uuid = ?`, []any{id}},
		{`DELETE FROM block_index_meta WHERE tracks_uuid = ?`, []any{id}},
		{`DELETE FROM track_attributes WHERE tracks_uuid = ?`, []any{id}},
		{`DELETE FROM tracks WHERE uuid = ?`, []any{id}},
		{`DROP TABLE IF EXISTS ` + quoteIdent(info.Table), nil},
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st.q, st.args...); err != nil {
			return fmt.Errorf("delete track %s: %w", info.Name, err)
		}
	}
	s.valueColumns.Delete(info.Table)
	s.redundancy.Delete(info.Table)
	return nil
}
