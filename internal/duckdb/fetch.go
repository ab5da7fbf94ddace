package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

// queryBlock runs the row-id range query for key and calls scan for each row.
func (s *Store) queryBlock(ctx context.Context, key block.Key, cols []string, scan func(*sql.Rows) error) error {
	if err := checkIdent(key.Table); err != nil {
		return err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE row_id BETWEEN ? AND ? ORDER BY row_id`,
		strings.Join(cols, ", "), quoteIdent(key.Table))
	rows, err := s.db.QueryContext(ctx, q, key.FirstRowID, key.LastRowID)
	if err != nil {
		return fmt.Errorf("query block %s: %w", key.ID(), err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan block %s: %w", key.ID(), err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate block %s: %w", key.ID(), err)
	}
	if int64(n) != key.Length {
		s.logger.Warn("block row count differs from index",
			zap.Stringer("block", key.ID()),
			zap.String("table", key.Table),
			zap.Int64("expected", key.Length),
			zap.Int("loaded", n))
	}
	return nil
}

// LoadPositionalBlock reads a block of a quantitative.positional track.
func (s *Store) LoadPositionalBlock(ctx context.Context, key block.Key) (*block.PositionalBlock, error) {
	size := key.FeatureCount()
	positions := make([]int64, 0, size)
	values := make([]float64, 0, size)
	err := s.queryBlock(ctx, key, []string{"position", "value"}, func(r *sql.Rows) error {
		var p int64
		var v float64
		if err := r.Scan(&p, &v); err != nil {
			return err
		}
		positions = append(positions, p)
		values = append(values, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block.NewPositionalBlock(key, positions, values)
}

// LoadSegmentBlock reads a block of a quantitative.segment track.
func (s *Store) LoadSegmentBlock(ctx context.Context, key block.Key) (*block.SegmentBlock, error) {
	size := key.FeatureCount()
	starts := make([]int64, 0, size)
	ends := make([]int64, 0, size)
	values := make([]float64, 0, size)
	err := s.queryBlock(ctx, key, []string{"start", `"end"`, "value"}, func(r *sql.Rows) error {
		var st, en int64
		var v float64
		if err := r.Scan(&st, &en, &v); err != nil {
			return err
		}
		starts = append(starts, st)
		ends = append(ends, en)
		values = append(values, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block.NewSegmentBlock(key, starts, ends, values)
}

// LoadSegmentMatrixBlock reads a block of a quantitative.segment.matrix
// track. The row width is the number of value columns in the table.
func (s *Store) LoadSegmentMatrixBlock(ctx context.Context, key block.Key) (*block.SegmentMatrixBlock, error) {
	valueCols, err := s.matrixColumns(ctx, key.Table)
	if err != nil {
		return nil, err
	}
	width := len(valueCols)
	cols := []string{"start", `"end"`}
	for _, c := range valueCols {
		cols = append(cols, quoteIdent(c))
	}

	size := key.FeatureCount()
	starts := make([]int64, 0, size)
	ends := make([]int64, 0, size)
	values := make([][]float64, 0, size)
	dest := make([]any, 2+width)
	err = s.queryBlock(ctx, key, cols, func(r *sql.Rows) error {
		var st, en int64
		row := make([]float64, width)
		dest[0], dest[1] = &st, &en
		for j := range row {
			dest[2+j] = &row[j]
		}
		if err := r.Scan(dest...); err != nil {
			return err
		}
		starts = append(starts, st)
		ends = append(ends, en)
		values = append(values, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block.NewSegmentMatrixBlock(key, starts, ends, values, width)
}

// LoadPositionalPvalueBlock reads a block of a
// quantitative.positional.p.value track.
func (s *Store) LoadPositionalPvalueBlock(ctx context.Context, key block.Key) (*block.PositionalPvalueBlock, error) {
	size := key.FeatureCount()
	positions := make([]int64, 0, size)
	values := make([]float64, 0, size)
	pvalues := make([]float64, 0, size)
	err := s.queryBlock(ctx, key, []string{"position", "value", "p_value"}, func(r *sql.Rows) error {
		var p int64
		var v, pv float64
		if err := r.Scan(&p, &v, &pv); err != nil {
			return err
		}
		positions = append(positions, p)
		values = append(values, v)
		pvalues = append(pvalues, pv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block.NewPositionalPvalueBlock(key, positions, values, pvalues)
}

// LoadPeptideBlock reads a block of a peptide track. Redundancy is read only
// when the table has the column.
func (s *Store) LoadPeptideBlock(ctx context.Context, key block.Key) (*block.PeptideBlock, error) {
	withRedundancy, err := s.hasRedundancy(ctx, key.Table)
	if err != nil {
		return nil, err
	}
	cols := []string{"start", `"end"`, "name", "common_name", "score"}
	if withRedundancy {
		cols = append(cols, "redundancy")
	}

	size := key.FeatureCount()
	starts := make([]int64, 0, size)
	ends := make([]int64, 0, size)
	names := make([]string, 0, size)
	commonNames := make([]string, 0, size)
	scores := make([]float64, 0, size)
	var redundancy []int64
	if withRedundancy {
		redundancy = make([]int64, 0, size)
	}

	err = s.queryBlock(ctx, key, cols, func(r *sql.Rows) error {
		var st, en int64
		var name, common sql.NullString
		var score float64
		var red sql.NullInt64
		dest := []any{&st, &en, &name, &common, &score}
		if withRedundancy {
			dest = append(dest, &red)
		}
		if err := r.Scan(dest...); err != nil {
			return err
		}
		starts = append(starts, st)
		ends = append(ends, en)
		names = append(names, name.String)
		commonNames = append(commonNames, common.String)
		scores = append(scores, score)
		if withRedundancy {
			redundancy = append(redundancy, red.Int64)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block.NewPeptideBlock(key, starts, ends, names, commonNames, scores, redundancy)
}
