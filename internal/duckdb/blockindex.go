package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
)

// IndexMeta is the bookkeeping row stored next to a persisted block index.
type IndexMeta struct {
	TrackID     uuid.UUID `db:"tracks_uuid" json:"track"`
	BlockSize   int64     `db:"block_size" json:"block_size"`
	RowCount    int64     `db:"row_count" json:"row_count"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Matches reports whether ix is the index this meta row was written for.
func (m IndexMeta) Matches(ix *block.Index) bool {
	return m.Fingerprint == Fingerprint(ix)
}

// Fingerprint is the persisted form of ix.Fingerprint.
func Fingerprint(ix *block.Index) string {
	return strconv.FormatUint(ix.Fingerprint(), 16)
}

type groupRow struct {
	SequenceID   int64  `db:"sequences_id"`
	SequenceName string `db:"seq_name"`
	Strand       string `db:"strand"`
	Count        int64  `db:"n"`
	FirstRowID   int64  `db:"first_row_id"`
	LastRowID    int64  `db:"last_row_id"`
}

// coordColumns are the columns giving a block's min and max coordinate.
func coordColumns(shape block.Shape) (string, string) {
	if shape.IsPositional() {
		return "position", "position"
	}
	return "start", `"end"`
}

// CreateBlockIndex cuts a track's feature table into blocks of at most
// blockSize rows per (sequence, strand) and measures each block's coordinate
// span. Span queries run on up to workers connections. The index is not
// persisted.
func (s *Store) CreateBlockIndex(ctx context.Context, info TrackInfo, blockSize, workers int) (*block.Index, error) {
	shape, err := info.Shape()
	if err != nil {
		return nil, err
	}
	if err := checkIdent(info.Table); err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		blockSize = block.DefaultBlockSize
	}
	started := time.Now()

	var groups []groupRow
	err = s.x.SelectContext(ctx, &groups, fmt.Sprintf(`SELECT f.sequences_id,
			coalesce(s.name, CAST(f.sequences_id AS VARCHAR)) AS seq_name,
			f.strand, count(*) AS n, min(f.row_id) AS first_row_id, max(f.row_id) AS last_row_id
		FROM %s f LEFT JOIN sequences s ON s.id = f.sequences_id
		GROUP BY f.sequences_id, s.name, f.strand
		ORDER BY f.sequences_id, %s`, quoteIdent(info.Table), strandRank("f.strand")))
	if err != nil {
		return nil, fmt.Errorf("group rows of %s: %w", info.Table, err)
	}

	size := int64(blockSize)
	var pending []block.Key
	for _, g := range groups {
		if g.LastRowID-g.FirstRowID+1 != g.Count {
			s.logger.Warn("non-contiguous row ids",
				zap.String("track", info.Name),
				zap.String("sequence", g.SequenceName),
				zap.String("strand", g.Strand),
				zap.Int64("rows", g.Count),
				zap.Int64("first_row_id", g.FirstRowID),
				zap.Int64("last_row_id", g.LastRowID))
		}
		blocks := (g.Count + size - 1) / size
		for i := range blocks {
			first := i*size + g.FirstRowID
			last := min(g.LastRowID, first+size-1)
			key, err := block.NewKey(info.UUID, g.SequenceID, g.SequenceName, block.ParseStrand(g.Strand),
				0, 0, 0, info.Table, first, last)
			if err != nil {
				return nil, err
			}
			pending = append(pending, key)
		}
	}

	lo, hi := coordColumns(shape)
	spanQuery := fmt.Sprintf(`SELECT min(%s), max(%s), count(*) FROM %s WHERE row_id BETWEEN ? AND ?`,
		lo, hi, quoteIdent(info.Table))
	results := parallelApply(ctx, pending, workers, func(ctx context.Context, key block.Key) (block.Key, error) {
		return s.blockSpan(ctx, spanQuery, key)
	})

	keys := make([]block.Key, 0, len(pending))
	err = inOrder(results, len(pending), func(r workResult[block.Key]) error {
		if r.Err != nil {
			return r.Err
		}
		if r.Item.Length == 0 {
			s.logger.Warn("zero-length block", zap.Stringer("block", r.Item))
		}
		keys = append(keys, r.Item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create block index for %s: %w", info.Name, err)
	}

	ix := block.NewIndex(keys...)
	s.logger.Info("created block index",
		zap.String("track", info.Name),
		zap.Int("blocks", ix.Len()),
		zap.Int("block_size", blockSize),
		zap.Duration("elapsed", time.Since(started)))
	return ix, nil
}

func (s *Store) blockSpan(ctx context.Context, query string, key block.Key) (block.Key, error) {
	var lo, hi sql.NullInt64
	var n int64
	if err := s.db.QueryRowContext(ctx, query, key.FirstRowID, key.LastRowID).Scan(&lo, &hi, &n); err != nil {
		return key, fmt.Errorf("measure block %s: %w", key.ID(), err)
	}
	key.Start, key.End, key.Length = lo.Int64, hi.Int64, n
	return key, nil
}

// SaveBlockIndex replaces the persisted index of a track and its meta row in
// one transaction.
func (s *Store) SaveBlockIndex(ctx context.Context, info TrackInfo, ix *block.Index, blockSize int, rowCount int64) error {
	id := info.UUID.String()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	return s.inTx(ctx, conn, func() error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM block_index_meta WHERE tracks_uuid = ?`, id); err != nil {
			return fmt.Errorf("clear index meta: %w", err)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM block_index WHERE tracks_uuid = ?`, id); err != nil {
			return fmt.Errorf("clear block index: %w", err)
		}

		var appender *goduckdb.Appender
		if err := conn.Raw(func(driverConn any) error {
			var err error
			appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "block_index")
			return err
		}); err != nil {
			return fmt.Errorf("create appender: %w", err)
		}

		for _, k := range ix.Keys() {
			if err := appender.AppendRow(
				k.TrackID.String(), k.SequenceID, k.SequenceName, k.Strand.Abbrev(),
				k.Start, k.End, k.Length, k.Table, k.FirstRowID, k.LastRowID,
			); err != nil {
				appender.Close()
				return fmt.Errorf("append block key: %w", err)
			}
		}
		if err := appender.Close(); err != nil {
			return fmt.Errorf("flush block index: %w", err)
		}

		if _, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO block_index_meta VALUES (?, ?, ?, ?, ?)`,
			id, int64(blockSize), rowCount, Fingerprint(ix), time.Now().UTC()); err != nil {
			return fmt.Errorf("write index meta: %w", err)
		}
		return nil
	})
}

type indexRow struct {
	TrackID      uuid.UUID `db:"tracks_uuid"`
	SequenceID   int64     `db:"sequences_id"`
	SequenceName string    `db:"seq_name"`
	Strand       string    `db:"strand"`
	Start        int64     `db:"start"`
	End          int64     `db:"end"`
	Length       int64     `db:"length"`
	Table        string    `db:"table_name"`
	FirstRowID   int64     `db:"first_row_id"`
	LastRowID    int64     `db:"last_row_id"`
}

// LoadBlockIndex reads the persisted index of a track. It returns an empty
// index and a nil meta when nothing was saved.
func (s *Store) LoadBlockIndex(ctx context.Context, trackID uuid.UUID) (*block.Index, *IndexMeta, error) {
	var rows []indexRow
	err := s.x.SelectContext(ctx, &rows, fmt.Sprintf(`SELECT tracks_uuid, sequences_id, seqId AS seq_name, strand,
			start, "end", length, table_name, first_row_id, last_row_id
		FROM block_index WHERE tracks_uuid = ?
		ORDER BY sequences_id, %s, start, "end"`, strandRank("strand")), trackID.String())
	if err != nil {
		return nil, nil, fmt.Errorf("load block index: %w", err)
	}
	keys := make([]block.Key, len(rows))
	for i, r := range rows {
		keys[i] = block.Key{
			TrackID:      r.TrackID,
			SequenceID:   r.SequenceID,
			SequenceName: r.SequenceName,
			Strand:       block.ParseStrand(r.Strand),
			Start:        r.Start,
			End:          r.End,
			Length:       r.Length,
			Table:        r.Table,
			FirstRowID:   r.FirstRowID,
			LastRowID:    r.LastRowID,
		}
	}

	var meta IndexMeta
	err = s.x.GetContext(ctx, &meta, `SELECT tracks_uuid, block_size, row_count, fingerprint, created_at
		FROM block_index_meta WHERE tracks_uuid = ?`, trackID.String())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return block.NewIndex(keys...), nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("load index meta: %w", err)
	}
	return block.NewIndex(keys...), &meta, nil
}

// DeleteBlockIndex removes the persisted index of a track.
func (s *Store) DeleteBlockIndex(ctx context.Context, trackID uuid.UUID) error {
	for _, table := range []string{"block_index_meta", "block_index"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE tracks_uuid = ?`, trackID.String()); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}
