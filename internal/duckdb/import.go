package duckdb

import (
	"cmp"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

// TrackSpec describes a track to import.
type TrackSpec struct {
	UUID  uuid.UUID // zero for a fresh one
	Name  string
	Shape block.Shape
	// Table defaults to "features_" plus the track name.
	Table string
	// Columns is the number of value columns of a segment matrix.
	Columns int
	// Redundancy adds a redundancy column to a peptide table.
	Redundancy bool
	Attributes map[string]string
}

func (ts *TrackSpec) normalize() error {
	if ts.Name == "" {
		return fmt.Errorf("track spec: missing name")
	}
	if _, ok := slices.BinarySearch(block.Shapes, ts.Shape); !ok {
		return fmt.Errorf("track spec %s: %w: %v", ts.Name, block.ErrUnknownShape, ts.Shape)
	}
	if ts.Shape == block.ShapeSegmentMatrix && ts.Columns <= 0 {
		return fmt.Errorf("track spec %s: matrix needs at least one value column", ts.Name)
	}
	if ts.UUID == uuid.Nil {
		ts.UUID = uuid.New()
	}
	if ts.Table == "" {
		ts.Table = "features_" + sanitize(ts.Name)
	}
	return checkIdent(ts.Table)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return '_'
	}, name)
}

// Row is one feature as handed over by a producer. Fields not used by the
// track's shape are ignored; positional shapes read the coordinate from Start.
type Row struct {
	Sequence   string
	Strand     block.Strand
	Start      int64
	End        int64
	Value      float64
	Values     []float64
	Pvalue     float64
	Name       string
	CommonName string
	Score      float64
	Redundancy int64
}

func (r Row) end(shape block.Shape) int64 {
	if shape.IsPositional() {
		return r.Start
	}
	return r.End
}

type column struct{ name, typ string }

// featureColumns is the table layout of a shape, in appender order.
func featureColumns(ts TrackSpec) []column {
	cols := []column{{"row_id", "BIGINT"}, {"sequences_id", "BIGINT"}, {"strand", "VARCHAR"}}
	switch ts.Shape {
	case block.ShapePositional:
		cols = append(cols, column{"position", "BIGINT"}, column{"value", "DOUBLE"})
	case block.ShapePositionalPvalue:
		cols = append(cols, column{"position", "BIGINT"}, column{"value", "DOUBLE"}, column{"p_value", "DOUBLE"})
	case block.ShapeSegment:
		cols = append(cols, column{"start", "BIGINT"}, column{"end", "BIGINT"}, column{"value", "DOUBLE"})
	case block.ShapeSegmentMatrix:
		cols = append(cols, column{"start", "BIGINT"}, column{"end", "BIGINT"})
		for i := range ts.Columns {
			cols = append(cols, column{fmt.Sprintf("value%d", i), "DOUBLE"})
		}
	case block.ShapePeptide:
		cols = append(cols, column{"start", "BIGINT"}, column{"end", "BIGINT"},
			column{"name", "VARCHAR"}, column{"common_name", "VARCHAR"}, column{"score", "DOUBLE"})
		if ts.Redundancy {
			cols = append(cols, column{"redundancy", "BIGINT"})
		}
	}
	return cols
}

func createTableSQL(ts TrackSpec) string {
	cols := featureColumns(ts)
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c.name) + " " + c.typ
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(ts.Table), strings.Join(defs, ", "))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func registerTrack(ctx context.Context, db execer, ts TrackSpec) error {
	if _, err := db.ExecContext(ctx, `INSERT INTO tracks VALUES (?, ?, ?, ?)`,
		ts.UUID.String(), ts.Name, ts.Shape.TrackType(), ts.Table); err != nil {
		return fmt.Errorf("register track %s: %w", ts.Name, err)
	}
	for k, v := range ts.Attributes {
		if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO track_attributes VALUES (?, ?, ?)`,
			ts.UUID.String(), k, v); err != nil {
			return fmt.Errorf("set attribute %s: %w", k, err)
		}
	}
	return nil
}

// ImportTrack creates a feature table for spec, fills it with rows and
// registers the track. Rows are sorted by (sequence, strand, start, end) and
// numbered from 0 in that order; unknown sequences are added with the largest
// coordinate seen as their length. The block index is not built.
func (s *Store) ImportTrack(ctx context.Context, spec TrackSpec, rows []Row) (TrackInfo, error) {
	if err := spec.normalize(); err != nil {
		return TrackInfo{}, err
	}
	for i, r := range rows {
		if spec.Shape == block.ShapeSegmentMatrix && len(r.Values) != spec.Columns {
			return TrackInfo{}, fmt.Errorf("import %s: row %d has %d values, want %d", spec.Name, i, len(r.Values), spec.Columns)
		}
		if r.Sequence == "" {
			return TrackInfo{}, fmt.Errorf("import %s: row %d has no sequence", spec.Name, i)
		}
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	err = s.inTx(ctx, conn, func() error {
		seqIDs, err := s.ensureSequences(ctx, conn, rows, spec.Shape)
		if err != nil {
			return err
		}

		sorted := slices.Clone(rows)
		slices.SortStableFunc(sorted, func(a, b Row) int {
			return cmp.Or(
				cmp.Compare(seqIDs[a.Sequence], seqIDs[b.Sequence]),
				cmp.Compare(a.Strand.Rank(), b.Strand.Rank()),
				cmp.Compare(a.Start, b.Start),
				cmp.Compare(a.end(spec.Shape), b.end(spec.Shape)),
			)
		})

		if _, err := conn.ExecContext(ctx, createTableSQL(spec)); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Table, err)
		}
		if err := appendFeatures(conn, spec, sorted, seqIDs); err != nil {
			return err
		}
		return registerTrack(ctx, conn, spec)
	})
	if err != nil {
		return TrackInfo{}, err
	}
	s.logger.Info("imported track",
		zap.String("track", spec.Name),
		zap.String("type", spec.Shape.TrackType()),
		zap.String("table", spec.Table),
		zap.Int("rows", len(rows)))
	return TrackInfo{UUID: spec.UUID, Name: spec.Name, Type: spec.Shape.TrackType(), Table: spec.Table}, nil
}

// appendFeatures writes rows, already sorted, through a DuckDB appender on
// conn. The appender is flushed before returning.
func appendFeatures(conn *sql.Conn, spec TrackSpec, rows []Row, seqIDs map[string]int64) (err error) {
	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", spec.Table)
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	defer func() {
		if cerr := appender.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("flush features: %w", cerr)
		}
	}()

	vals := make([]driver.Value, 0, len(featureColumns(spec)))
	for i, r := range rows {
		vals = append(vals[:0], int64(i), seqIDs[r.Sequence], r.Strand.Abbrev())
		vals = appendShapeValues(vals, spec, r)
		if err := appender.AppendRow(vals...); err != nil {
			return fmt.Errorf("append feature: %w", err)
		}
	}
	return nil
}

func appendShapeValues(vals []driver.Value, ts TrackSpec, r Row) []driver.Value {
	switch ts.Shape {
	case block.ShapePositional:
		vals = append(vals, r.Start, r.Value)
	case block.ShapePositionalPvalue:
		vals = append(vals, r.Start, r.Value, r.Pvalue)
	case block.ShapeSegment:
		vals = append(vals, r.Start, r.End, r.Value)
	case block.ShapeSegmentMatrix:
		vals = append(vals, r.Start, r.End)
		for _, v := range r.Values {
			vals = append(vals, v)
		}
	case block.ShapePeptide:
		vals = append(vals, r.Start, r.End, r.Name, r.CommonName, r.Score)
		if ts.Redundancy {
			vals = append(vals, r.Redundancy)
		}
	}
	return vals
}

// ensureSequences returns the id of every sequence named by rows, adding the
// missing ones.
func (s *Store) ensureSequences(ctx context.Context, conn *sql.Conn, rows []Row, shape block.Shape) (map[string]int64, error) {
	ids := make(map[string]int64)
	lengths := make(map[string]int64)
	var order []string
	for _, r := range rows {
		if _, ok := lengths[r.Sequence]; !ok {
			order = append(order, r.Sequence)
		}
		lengths[r.Sequence] = max(lengths[r.Sequence], r.end(shape))
	}

	var nextID int64
	if err := conn.QueryRowContext(ctx, `SELECT coalesce(max(id), 0) FROM sequences`).Scan(&nextID); err != nil {
		return nil, fmt.Errorf("query sequences: %w", err)
	}
	for _, name := range order {
		var id int64
		err := conn.QueryRowContext(ctx, `SELECT id FROM sequences WHERE name = ?`, name).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			nextID++
			id = nextID
			if _, err := conn.ExecContext(ctx, `INSERT INTO sequences VALUES (?, ?, ?)`, id, name, lengths[name]); err != nil {
				return nil, fmt.Errorf("add sequence %s: %w", name, err)
			}
		case err != nil:
			return nil, fmt.Errorf("look up sequence %s: %w", name, err)
		}
		ids[name] = id
	}
	return ids, nil
}

// AddSequence registers a sequence and returns its id. An existing sequence
// of the same name keeps its id.
func (s *Store) AddSequence(ctx context.Context, name string, length int64) (int64, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()
	ids, err := s.ensureSequences(ctx, conn, []Row{{Sequence: name, Start: length, End: length}}, block.ShapeSegment)
	if err != nil {
		return 0, err
	}
	return ids[name], nil
}

// tsvColumns is the header a TSV file must carry for a shape.
func tsvColumns(ts TrackSpec) []column {
	cols := []column{{"sequence", "VARCHAR"}, {"strand", "VARCHAR"}}
	return append(cols, featureColumns(ts)[3:]...)
}

// ImportTSV bulk-loads a tab-separated file with a header line naming
// sequence, strand and the shape's columns (see featureColumns), using
// DuckDB's CSV reader. Row ids are assigned by the same ordering as
// ImportTrack.
func (s *Store) ImportTSV(ctx context.Context, spec TrackSpec, path string) (TrackInfo, error) {
	if err := spec.normalize(); err != nil {
		return TrackInfo{}, err
	}
	src, err := StatSource(path)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("read %s: %w", path, err)
	}
	attrs := src.Attributes()
	maps.Copy(attrs, spec.Attributes)
	spec.Attributes = attrs

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	cols := tsvColumns(spec)
	types := make([]string, len(cols))
	names := make([]string, 0, len(cols)-2)
	for i, c := range cols {
		types[i] = fmt.Sprintf("'%s': '%s'", c.name, c.typ)
		if i >= 2 {
			names = append(names, "st."+quoteIdent(c.name))
		}
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE OR REPLACE TEMP TABLE import_stage AS
		SELECT * FROM read_csv('%s', delim='\t', header=true, columns={%s})`,
		strings.ReplaceAll(path, "'", "''"), strings.Join(types, ", "))); err != nil {
		return TrackInfo{}, fmt.Errorf("read %s: %w", path, err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `DROP TABLE IF EXISTS import_stage`); err != nil {
			s.logger.Warn("drop import stage", zap.String("path", path), zap.Error(err))
		}
	}()

	strand := `CASE WHEN lower(st.strand) IN ('+', 'for', 'forward', '1') THEN '+'
		WHEN lower(st.strand) IN ('-', 'rev', 'reverse', '-1') THEN '-' ELSE '.' END`
	coordEnd := `st."end"`
	coordStart := `st.start`
	if spec.Shape.IsPositional() {
		coordStart, coordEnd = `st.position`, `st.position`
	}

	err = s.inTx(ctx, conn, func() error {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO sequences
			SELECT (SELECT coalesce(max(id), 0) FROM sequences) + row_number() OVER (ORDER BY first_seen), name, seq_length
			FROM (SELECT st.sequence AS name, max(%s) AS seq_length, min(rowid) AS first_seen
				FROM import_stage st
				WHERE st.sequence NOT IN (SELECT name FROM sequences)
				GROUP BY st.sequence)`, coordEnd)); err != nil {
			return fmt.Errorf("add sequences: %w", err)
		}

		if _, err := conn.ExecContext(ctx, createTableSQL(spec)); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Table, err)
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
			SELECT row_number() OVER (ORDER BY s.id, %s, %s, %s) - 1, s.id, %s, %s
			FROM import_stage st JOIN sequences s ON s.name = st.sequence`,
			quoteIdent(spec.Table), strandRank(strand), coordStart, coordEnd, strand, strings.Join(names, ", "))); err != nil {
			return fmt.Errorf("load %s into %s: %w", path, spec.Table, err)
		}
		return registerTrack(ctx, conn, spec)
	})
	if err != nil {
		return TrackInfo{}, err
	}
	n, err := s.RowCount(ctx, spec.Table)
	if err != nil {
		return TrackInfo{}, err
	}
	s.logger.Info("imported track",
		zap.String("track", spec.Name),
		zap.String("path", path),
		zap.String("table", spec.Table),
		zap.Int64("rows", n))
	return TrackInfo{UUID: spec.UUID, Name: spec.Name, Type: spec.Shape.TrackType(), Table: spec.Table}, nil
}
