// Package server exposes a dataset's tracks over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/block"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/duckdb"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/output"
	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/track"
)

// NewRouter returns a gin engine serving the tracks of ds.
func NewRouter(ds *track.DataSource, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/tracks", NewTracksHandler(ds))
	r.GET("/tracks/:name", NewTrackHandler(ds))
	r.GET("/tracks/:name/blocks", NewBlocksHandler(ds))
	r.GET("/tracks/:name/features", NewFeaturesHandler(ds, logger))
	r.GET("/stats", NewStatsHandler(ds))
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// abort writes err as a JSON error body with a status derived from its kind.
func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, duckdb.ErrTrackNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

func parseWindow(c *gin.Context) (track.Window, error) {
	q := c.Query("window")
	if q == "" {
		return track.Window{}, fmt.Errorf("%w: missing window parameter", errBadRequest)
	}
	w, err := track.ParseWindow(q)
	if err != nil {
		return track.Window{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return w, nil
}

// NewTracksHandler returns a handler listing the dataset's tracks.
func NewTracksHandler(ds *track.DataSource) func(c *gin.Context) {
	return func(c *gin.Context) {
		tracks, err := ds.Tracks(c.Request.Context())
		if err != nil {
			abort(c, err)
			return
		}
		if tracks == nil {
			tracks = []duckdb.TrackInfo{}
		}
		c.JSON(http.StatusOK, tracks)
	}
}

type trackSummary struct {
	duckdb.TrackInfo
	Blocks int          `json:"blocks"`
	Rows   int64        `json:"rows"`
	Range  *block.Range `json:"range,omitempty"`
}

// NewTrackHandler returns a handler describing one track and its index.
func NewTrackHandler(ds *track.DataSource) func(c *gin.Context) {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		src, err := ds.Track(ctx, c.Param("name"))
		if err != nil {
			abort(c, err)
			return
		}
		sum := trackSummary{TrackInfo: src.Info(), Blocks: src.Index().Len(), Rows: src.Index().RowCount()}
		if r, err := src.Range(ctx); err == nil {
			sum.Range = &r
		}
		c.JSON(http.StatusOK, sum)
	}
}

type blockSummary struct {
	ID         string       `json:"id"`
	Sequence   string       `json:"sequence"`
	Strand     block.Strand `json:"strand"`
	Start      int64        `json:"start"`
	End        int64        `json:"end"`
	Length     int64        `json:"length"`
	FirstRowID int64        `json:"first_row_id"`
	LastRowID  int64        `json:"last_row_id"`
	Cached     bool         `json:"cached"`
}

// NewBlocksHandler returns a handler listing the blocks a window touches.
func NewBlocksHandler(ds *track.DataSource) func(c *gin.Context) {
	return func(c *gin.Context) {
		w, err := parseWindow(c)
		if err != nil {
			abort(c, err)
			return
		}
		src, err := ds.Track(c.Request.Context(), c.Param("name"))
		if err != nil {
			abort(c, err)
			return
		}
		out := []blockSummary{}
		for _, k := range src.Blocks(w) {
			out = append(out, blockSummary{
				ID:         k.ID().String(),
				Sequence:   k.SequenceName,
				Strand:     k.Strand,
				Start:      k.Start,
				End:        k.End,
				Length:     k.Length,
				FirstRowID: k.FirstRowID,
				LastRowID:  k.LastRowID,
				Cached:     ds.Cache().Contains(k),
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

// NewFeaturesHandler returns a handler streaming the features of a window,
// as NDJSON (default) or, with format=tsv, tab-delimited rows. Output is
// flushed after every block. A block that fails to load is reported inline
// as {"error": ..., "block": ...} and the stream continues.
func NewFeaturesHandler(ds *track.DataSource, logger *zap.Logger) func(c *gin.Context) {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		w, err := parseWindow(c)
		if err != nil {
			abort(c, err)
			return
		}
		format := c.DefaultQuery("format", "ndjson")
		if format != "ndjson" && format != "tsv" {
			abort(c, fmt.Errorf("%w: unsupported format %q", errBadRequest, format))
			return
		}
		src, err := ds.Track(ctx, c.Param("name"))
		if err != nil {
			abort(c, err)
			return
		}

		var emit func(key block.Key, features iter.Seq[block.Feature], err error) error
		if format == "tsv" {
			width := 0
			if src.Shape() == block.ShapeSegmentMatrix {
				if width, err = ds.Store().MatrixWidth(ctx, src.Info().Table); err != nil {
					abort(c, err)
					return
				}
			}
			c.Header("Content-Type", "text/tab-separated-values")
			tw := output.NewTabWriter(c.Writer, src.Shape(), width)
			if err := tw.WriteHeader(); err != nil {
				return
			}
			emit = func(key block.Key, features iter.Seq[block.Feature], err error) error {
				if err != nil {
					logger.Warn("skipping block", zap.Stringer("block", key.ID()), zap.Error(err))
					return nil
				}
				for f := range features {
					if err := tw.Write(block.ToRecord(f)); err != nil {
						return err
					}
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				c.Writer.Flush()
				return nil
			}
		} else {
			c.Header("Content-Type", "application/x-ndjson")
			enc := json.NewEncoder(c.Writer)
			emit = func(key block.Key, features iter.Seq[block.Feature], err error) error {
				if err != nil {
					logger.Warn("block failed", zap.Stringer("block", key.ID()), zap.Error(err))
					if err := enc.Encode(gin.H{"error": err.Error(), "block": key.ID().String()}); err != nil {
						return err
					}
					c.Writer.Flush()
					return nil
				}
				for f := range features {
					if err := enc.Encode(block.ToRecord(f)); err != nil {
						return err
					}
				}
				c.Writer.Flush()
				return nil
			}
		}

		c.Status(http.StatusOK)
		if err := src.EachBlock(ctx, w, emit); err != nil {
			logger.Debug("feature stream ended early", zap.String("track", src.Info().Name), zap.Error(err))
		}
	}
}

// NewStatsHandler returns a handler reporting block cache statistics.
func NewStatsHandler(ds *track.DataSource) func(c *gin.Context) {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ds.Cache().Stats())
	}
}
