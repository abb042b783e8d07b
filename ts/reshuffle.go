/*
Copyright © 2019 the CCISM authors.
This file is part of CCISM.

CCISM is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CCISM is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CCISM.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package ts converts sequences of ESA CCI SM images into a time series
// archive with one file per grid cell, and reads time series back from
// such an archive.
package ts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ccism"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBufferSize is the default number of images held in memory
	// between writes.
	DefaultBufferSize = 200

	// DefaultOpenFiles is the default number of cell files kept open
	// between writes.
	DefaultOpenFiles = 64

	// CoverageTimeFormat is the layout of the time_coverage_start and
	// time_coverage_end attributes.
	CoverageTimeFormat = "2006-01-02 15:04:05"
)

// Config holds the settings of a reshuffle run.
type Config struct {
	// InputRoot is the directory holding the image files, with one
	// subdirectory per year.
	InputRoot string

	// OutputRoot is the directory the time series files are written to.
	// It is created if it does not exist.
	OutputRoot string

	// Start and End are the first and last timestamps to process.
	Start, End time.Time

	// Variables are the image variables to convert. If empty, all raster
	// variables of the first image file are converted.
	Variables []string

	// LandPoints restricts the archive to the land points of LandMask.
	LandPoints bool

	// LandMask is the path to the land mask file, and LandMaskVariable
	// is its land flag variable (default "land").
	LandMask, LandMaskVariable string

	// IgnoreMeta skips the product metadata, writing only a minimal
	// global attribute set.
	IgnoreMeta bool

	// BufferSize is the number of images read before they are written
	// to the time series files. The default is DefaultBufferSize.
	BufferSize int

	Cadence ccism.Cadence

	// Resolution is the grid spacing of the images in degrees. The
	// default is ccism.Resolution.
	Resolution float64

	// CellSize is the cell edge length in degrees. The default is
	// ccism.CellSize.
	CellSize float64

	// Workers is the number of cell files written concurrently. The
	// default is the number of CPUs.
	Workers int

	// OpenFiles is the number of cell files kept open between writes.
	// The default is DefaultOpenFiles.
	OpenFiles int

	// Log receives progress and warning messages. The default is the
	// logrus standard logger.
	Log logrus.FieldLogger

	// Progress, if not nil, is called after each image is read.
	Progress func(img *ccism.Image)
}

func (c *Config) setDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Resolution <= 0 {
		c.Resolution = ccism.Resolution
	}
	if c.CellSize <= 0 {
		c.CellSize = ccism.CellSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(-1)
	}
	if c.OpenFiles <= 0 {
		c.OpenFiles = DefaultOpenFiles
	}
	if c.LandMaskVariable == "" {
		c.LandMaskVariable = ccism.DefaultLandMaskVariable
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
}

// Reshuffle converts the images in c.InputRoot between c.Start and c.End
// into per-cell time series files in c.OutputRoot. The grid of the
// archive is written to grid.nc in the same directory.
//
// Images are processed in chronological order and appended to the
// existing contents of the cell files; running Reshuffle twice over the
// same period therefore duplicates the records of that period.
func Reshuffle(ctx context.Context, c Config) error {
	c.setDefaults()
	if c.Start.After(c.End) {
		return fmt.Errorf("ts: start time %s is after end time %s",
			c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
	}
	p, err := ccism.FindFirstProduct(c.InputRoot)
	if err != nil {
		return err
	}
	vars := c.Variables
	if len(vars) == 0 {
		if vars, err = ccism.DiscoverVariables(p.Path); err != nil {
			return err
		}
		if len(vars) == 0 {
			return fmt.Errorf("ts: %s has no raster variables", p.Path)
		}
	}

	var meta *ccism.Metadata
	if c.IgnoreMeta {
		meta = ccism.DefaultMetadata()
	} else {
		meta, err = ccism.LoadMetadata(p.Version, p.SubVersion, p.SensorType, vars)
		if err != nil {
			return err
		}
		meta.Global["time_coverage_start"] = c.Start.Format(CoverageTimeFormat)
		meta.Global["time_coverage_end"] = c.End.Format(CoverageTimeFormat)
	}

	grid, err := reshuffleGrid(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.OutputRoot, 0755); err != nil {
		return fmt.Errorf("ts: creating output directory: %v", err)
	}
	if err := grid.Save(filepath.Join(c.OutputRoot, ccism.GridFileName)); err != nil {
		return err
	}

	log := c.Log.WithFields(logrus.Fields{
		"product": p.Product,
		"sensor":  p.SensorType,
		"version": fmt.Sprintf("%02d.%d", p.Version, p.SubVersion),
	})
	log.WithFields(logrus.Fields{
		"extent":    grid.Extent(),
		"points":    grid.NumActive(),
		"cells":     len(grid.Cells()),
		"variables": vars,
	}).Info("reshuffling images to time series")

	reader := &ccism.ImageReader{Grid: grid, Variables: vars, Log: c.Log}
	ds := ccism.NewDataset(c.InputRoot, reader, c.Cadence)
	w := newCellWriter(c.OutputRoot, grid, meta, vars, c.OpenFiles, c.Log)

	err = stream(ctx, c, ds, w, log)
	if cerr := w.close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

// stream reads the images and writes them in batches of c.BufferSize.
func stream(ctx context.Context, c Config, ds *ccism.Dataset, w *cellWriter, log logrus.FieldLogger) error {
	next := ds.Iterate(c.Start, c.End)
	buf := make([]*ccism.Image, 0, c.BufferSize)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if w.types == nil {
			w.setTypes(img)
		}
		n++
		if c.Progress != nil {
			c.Progress(img)
		}
		buf = append(buf, img)
		if len(buf) == c.BufferSize {
			if err := flush(ctx, w, buf, c.Workers); err != nil {
				return err
			}
			log.WithField("through", buf[len(buf)-1].Timestamp.Format(time.RFC3339)).Debug("wrote buffered images")
			buf = buf[:0]
		}
	}
	if err := flush(ctx, w, buf, c.Workers); err != nil {
		return err
	}
	log.WithField("images", n).Info("finished reshuffling")
	return nil
}

// flush writes imgs to every cell file, writing up to workers files at once.
func flush(ctx context.Context, w *cellWriter, imgs []*ccism.Image, workers int) error {
	if len(imgs) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, cell := range w.grid.Cells() {
		cell := cell
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return w.write(cell, imgs)
		})
	}
	return g.Wait()
}

// reshuffleGrid returns the grid of the archive.
func reshuffleGrid(c Config) (*ccism.Grid, error) {
	g, err := ccism.NewGrid(c.Resolution, c.CellSize)
	if err != nil {
		return nil, err
	}
	if !c.LandPoints {
		return g, nil
	}
	if c.LandMask == "" {
		return nil, fmt.Errorf("ts: a land mask file is required to reshuffle land points only")
	}
	mask, err := ccism.LoadLandMask(c.LandMask, c.LandMaskVariable)
	if err != nil {
		return nil, err
	}
	return g.LandSubset(mask)
}
