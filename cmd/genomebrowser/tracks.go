package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/output"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/track"
)

func newTracksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracks",
		Short: "List the dataset's tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			tracks, err := e.ds.Tracks(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tTABLE\tUUID")
			for _, t := range tracks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Type, t.Table, t.UUID)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newTracksDeleteCmd())
	return cmd
}

func newTracksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <track-name>",
		Short: "Delete a track, its feature table and its block index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			info, err := e.store.TrackByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := e.store.DeleteTrack(cmd.Context(), info); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", info.Name)
			return nil
		},
	}
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build, inspect or rebuild block indexes",
	}
	cmd.AddCommand(newIndexBuildCmd(false))
	cmd.AddCommand(newIndexBuildCmd(true))
	cmd.AddCommand(newIndexShowCmd())
	cmd.AddCommand(newIndexDropCmd())
	return cmd
}

func newIndexBuildCmd(rebuild bool) *cobra.Command {
	use, short := "build", "Build a track's block index if it is missing or stale"
	if rebuild {
		use, short = "rebuild", "Recompute a track's block index with the configured block size"
	}
	return &cobra.Command{
		Use:   use + " <track-name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			info, err := e.store.TrackByName(ctx, args[0])
			if err != nil {
				return err
			}
			var ix *block.Index
			if rebuild {
				ix, err = e.ds.RebuildBlockIndex(ctx, info)
			} else {
				ix, err = e.ds.GetOrCreateBlockIndex(ctx, info)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows in %d blocks\n", info.Name, ix.RowCount(), ix.Len())
			return nil
		},
	}
}

func newIndexShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <track-name>",
		Short: "Print a track's persisted block index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			info, err := e.store.TrackByName(ctx, args[0])
			if err != nil {
				return err
			}
			ix, meta, err := e.store.LoadBlockIndex(ctx, info.UUID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if meta == nil {
				fmt.Fprintf(w, "# %s has no saved index metadata\n", info.Name)
			} else {
				fmt.Fprintf(w, "# %s: block size %d, %d rows, fingerprint %s, created %s\n",
					info.Name, meta.BlockSize, meta.RowCount, meta.Fingerprint, meta.CreatedAt.Format("2006-01-02 15:04:05"))
				if !meta.Matches(ix) {
					fmt.Fprintln(w, "# fingerprint mismatch: run index build to repair")
				}
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQUENCE\tSTRAND\tSTART\tEND\tLENGTH\tROWS")
			for _, k := range ix.Keys() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d-%d\n",
					k.SequenceName, k.Strand.Abbrev(), k.Start, k.End, k.Length, k.FirstRowID, k.LastRowID)
			}
			return tw.Flush()
		},
	}
}

func newIndexDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <track-name>",
		Short: "Delete a track's persisted block index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			info, err := e.store.TrackByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.store.DeleteBlockIndex(cmd.Context(), info.UUID)
		},
	}
}

func newQueryCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "query <track-name> <window>",
		Short: "Print the features of a track overlapping a window",
		Long: `Print the features of a track overlapping a window. The window is
"sequence", "sequence:start-end" or "sequence:start-end:strand" with strand
one of + - . *; a bare sequence name covers the whole sequence.`,
		Example: `  genomebrowser query tiling chr1:39500-40500
  genomebrowser query tiling NC_002607:1,000-2,000:+ --format ndjson`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := track.ParseWindow(args[1])
			if err != nil {
				return err
			}
			if format != "tsv" && format != "ndjson" {
				return fmt.Errorf("unknown output format %q", format)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			src, err := e.ds.Track(ctx, args[0])
			if err != nil {
				return err
			}
			if format == "ndjson" {
				return queryNDJSON(ctx, cmd.OutOrStdout(), e, src, w)
			}

			width := 0
			if src.Shape() == block.ShapeSegmentMatrix {
				if width, err = e.store.MatrixWidth(ctx, src.Info().Table); err != nil {
					return err
				}
			}
			tw := output.NewTabWriter(cmd.OutOrStdout(), src.Shape(), width)
			if err := tw.WriteHeader(); err != nil {
				return err
			}
			err = src.EachBlock(ctx, w, func(key block.Key, features iter.Seq[block.Feature], err error) error {
				if err != nil {
					e.logger.Warn("skipping block", zap.Stringer("block", key.ID()), zap.Error(err))
					return nil
				}
				for f := range features {
					if err := tw.Write(block.ToRecord(f)); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "tsv", "output format: tsv, ndjson")
	return cmd
}

func queryNDJSON(ctx context.Context, out io.Writer, e *env, src track.Source, w track.Window) error {
	enc := json.NewEncoder(out)
	return src.EachBlock(ctx, w, func(key block.Key, features iter.Seq[block.Feature], err error) error {
		if err != nil {
			e.logger.Warn("skipping block", zap.Stringer("block", key.ID()), zap.Error(err))
			return nil
		}
		for f := range features {
			if err := enc.Encode(block.ToRecord(f)); err != nil {
				return err
			}
		}
		return nil
	})
}
