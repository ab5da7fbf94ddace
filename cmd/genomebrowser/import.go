package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/duckdb"
)

// shapeNames are the short names accepted by --type, next to the full
// track type strings.
var shapeNames = map[string]block.Shape{
	"positional": block.ShapePositional,
	"segment":    block.ShapeSegment,
	"matrix":     block.ShapeSegmentMatrix,
	"pvalue":     block.ShapePositionalPvalue,
	"peptide":    block.ShapePeptide,
}

func parseShapeFlag(s string) (block.Shape, error) {
	if shape, ok := shapeNames[strings.ToLower(s)]; ok {
		return shape, nil
	}
	return block.ParseShape(s)
}

func newImportCmd() *cobra.Command {
	var (
		shapeName  string
		table      string
		columns    int
		redundancy bool
		attrs      []string
		noIndex    bool
	)

	cmd := &cobra.Command{
		Use:   "import <track-name> <file.tsv>",
		Short: "Import a tab-separated track file",
		Long: `Import a tab-separated file into the dataset as a new track and build its
block index.

The file needs a header line. Columns by track type:
  positional  sequence strand position value
  pvalue      sequence strand position value p_value
  segment     sequence strand start end value
  matrix      sequence strand start end value0 .. valueN-1
  peptide     sequence strand start end name common_name score [redundancy]`,
		Example: `  genomebrowser import tiling tiling.tsv --type positional
  genomebrowser import chip chip.tsv --type matrix --columns 12
  genomebrowser import peptides peptides.tsv --type peptide --redundancy --attr color=0x800000FF`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			shape, err := parseShapeFlag(shapeName)
			if err != nil {
				return err
			}
			spec := duckdb.TrackSpec{
				Name:       args[0],
				Shape:      shape,
				Table:      table,
				Columns:    columns,
				Redundancy: redundancy,
				Attributes: make(map[string]string),
			}
			for _, a := range attrs {
				k, v, ok := strings.Cut(a, "=")
				if !ok {
					return fmt.Errorf("attribute %q: want key=value", a)
				}
				spec.Attributes[k] = v
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			info, err := e.store.ImportTSV(ctx, spec, args[1])
			if err != nil {
				return err
			}
			if noIndex {
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s\n", info.Name, info.Table)
				return nil
			}
			ix, err := e.ds.GetOrCreateBlockIndex(ctx, info)
			if err != nil {
				return fmt.Errorf("indexing %s: %w", info.Name, err)
			}
			e.logger.Debug("indexed track", zap.String("track", info.Name), zap.Int("blocks", ix.Len()))
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s: %d rows in %d blocks\n",
				info.Name, info.Table, ix.RowCount(), ix.Len())
			return nil
		},
	}

	cmd.Flags().StringVarP(&shapeName, "type", "t", "positional", "track type: positional, segment, matrix, pvalue, peptide")
	cmd.Flags().StringVar(&table, "table", "", "feature table name (default features_<track-name>)")
	cmd.Flags().IntVar(&columns, "columns", 0, "value columns of a matrix track")
	cmd.Flags().BoolVar(&redundancy, "redundancy", false, "peptide file has a redundancy column")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "track attribute key=value (repeatable)")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "skip building the block index")
	return cmd
}
