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

package ccismutil

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ccism"
	"github.com/spatialmodel/ccism/cloud"
	"github.com/spatialmodel/ccism/ts"
	"github.com/spf13/cast"
)

// ReshuffleConfig builds the settings of a reshuffle run from the
// command-line arguments input_root, output_root, start and end and
// the current configuration.
func ReshuffleConfig(args []string) (ts.Config, error) {
	if len(args) != 4 {
		return ts.Config{}, fmt.Errorf("ccism: reshuffle needs 4 arguments; got %d", len(args))
	}
	start, err := parseTime(args[2])
	if err != nil {
		return ts.Config{}, err
	}
	end, err := parseTime(args[3])
	if err != nil {
		return ts.Config{}, err
	}
	cadence, err := ccism.ParseCadence(Cfg.GetString("cadence"))
	if err != nil {
		return ts.Config{}, err
	}
	return ts.Config{
		InputRoot:        os.ExpandEnv(args[0]),
		OutputRoot:       os.ExpandEnv(args[1]),
		Start:            start,
		End:              end,
		Variables:        Cfg.GetStringSlice("parameters"),
		LandPoints:       Cfg.GetBool("land_points"),
		LandMask:         os.ExpandEnv(Cfg.GetString("land_mask")),
		LandMaskVariable: Cfg.GetString("land_mask_variable"),
		IgnoreMeta:       Cfg.GetBool("ignore_meta"),
		BufferSize:       Cfg.GetInt("buffer_size"),
		Cadence:          cadence,
		Resolution:       Cfg.GetFloat64("resolution"),
		CellSize:         Cfg.GetFloat64("cell_size"),
		Workers:          Cfg.GetInt("workers"),
		OpenFiles:        Cfg.GetInt("open_files"),
		Log:              Log,
	}, nil
}

// Reshuffle runs a reshuffle and, if upload is not empty, copies the
// resulting archive to that blob storage location. If progress is true,
// a progress bar is written to w.
func Reshuffle(ctx context.Context, c ts.Config, upload string, progress bool, retries int, w io.Writer) error {
	if progress {
		n := len((&ccism.Dataset{Cadence: c.Cadence}).Timestamps(c.Start, c.End))
		bar := newBar(n, "reading images", w)
		c.Progress = func(*ccism.Image) { bar.Add(1) }
		defer bar.Finish()
	}
	if err := ts.Reshuffle(ctx, c); err != nil {
		return err
	}
	if upload == "" {
		return nil
	}
	t := &cloud.Transfer{MaxRetries: uint64(retries), Log: Log}
	names, err := t.Upload(ctx, c.OutputRoot, upload)
	if err != nil {
		return err
	}
	Log.WithFields(logrus.Fields{"files": len(names), "location": upload}).Info("uploaded time series")
	return nil
}

// newBar returns a progress bar of n steps. An unknown size (n <= 0)
// gives a spinner.
func newBar(n int, description string, w io.Writer) *progressbar.ProgressBar {
	if n <= 0 {
		n = -1
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}

// ReadRequest specifies a time series to read.
type ReadRequest struct {
	// Dir is the directory of the archive.
	Dir string

	// GPI is the grid point to read. If it is negative, the grid point
	// nearest to Lon and Lat is read.
	GPI      int
	Lon, Lat float64

	Variables []string

	Offsets, ScaleFactors map[string]float64

	// Summary requests summary statistics instead of the time series.
	Summary bool
}

// ReadConfig builds a ReadRequest for the archive in dir from the current
// configuration.
func ReadConfig(dir string) (ReadRequest, error) {
	r := ReadRequest{
		Dir:       os.ExpandEnv(dir),
		GPI:       Cfg.GetInt("gpi"),
		Lon:       Cfg.GetFloat64("lon"),
		Lat:       Cfg.GetFloat64("lat"),
		Variables: Cfg.GetStringSlice("parameters"),
		Summary:   Cfg.GetBool("summary"),
	}
	if r.GPI < 0 && (math.IsNaN(r.Lon) || math.IsNaN(r.Lat)) {
		return r, fmt.Errorf("ccism: either gpi or both lon and lat must be specified")
	}
	var err error
	if r.Offsets, err = parseFactors(Cfg.GetStringSlice("offsets")); err != nil {
		return r, err
	}
	if r.ScaleFactors, err = parseFactors(Cfg.GetStringSlice("scale_factors")); err != nil {
		return r, err
	}
	return r, nil
}

// parseFactors parses values in the format variable=value.
func parseFactors(s []string) (map[string]float64, error) {
	if len(s) == 0 {
		return nil, nil
	}
	o := make(map[string]float64, len(s))
	for _, kv := range s {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("ccism: invalid value %q; use variable=value", kv)
		}
		v, err := cast.ToFloat64E(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("ccism: invalid value for %s: %v", parts[0], err)
		}
		o[strings.TrimSpace(parts[0])] = v
	}
	return o, nil
}

type seriesRow struct {
	Time     string  `csv:"time"`
	Variable string  `csv:"variable"`
	Value    float64 `csv:"value"`
}

type summaryRow struct {
	Variable       string  `csv:"variable"`
	Count          int     `csv:"count"`
	Mean           float64 `csv:"mean"`
	Std            float64 `csv:"std"`
	Min            float64 `csv:"min"`
	Max            float64 `csv:"max"`
	First          string  `csv:"first"`
	Last           string  `csv:"last"`
	MissingPercent float64 `csv:"missing_percent"`
}

// Read reads the time series specified by req and writes it to w as CSV.
func Read(req ReadRequest, w io.Writer) error {
	r, err := ts.NewReader(req.Dir)
	if err != nil {
		return err
	}
	r.Offsets = req.Offsets
	r.ScaleFactors = req.ScaleFactors

	var s *ts.TimeSeries
	if req.GPI >= 0 {
		s, err = r.Read(req.GPI, req.Variables...)
	} else {
		s, err = r.ReadLonLat(req.Lon, req.Lat, req.Variables...)
	}
	if err != nil {
		return err
	}
	Log.WithFields(logrus.Fields{
		"gpi":      s.GPI,
		"lon":      s.Lon,
		"lat":      s.Lat,
		"cell":     s.Cell,
		"distance": s.Distance,
	}).Debug("read time series")

	vars := req.Variables
	if len(vars) == 0 {
		for v := range s.Data {
			vars = append(vars, v)
		}
		sort.Strings(vars)
	}
	if req.Summary {
		var rows []summaryRow
		for _, v := range vars {
			sum, err := s.Summary(v)
			if err != nil {
				return err
			}
			row := summaryRow{
				Variable:       v,
				Count:          sum.Count,
				Mean:           sum.Mean,
				Std:            sum.Std,
				Min:            sum.Min,
				Max:            sum.Max,
				MissingPercent: sum.MissingPercent,
			}
			if sum.Count > 0 {
				row.First = sum.First.Format(time.RFC3339)
				row.Last = sum.Last.Format(time.RFC3339)
			}
			rows = append(rows, row)
		}
		return gocsv.Marshal(rows, w)
	}
	rows := make([]seriesRow, 0, len(vars)*len(s.Time))
	for _, v := range vars {
		for i, t := range s.Time {
			rows = append(rows, seriesRow{
				Time:     t.Format(time.RFC3339),
				Variable: v,
				Value:    s.Data[v][i],
			})
		}
	}
	return gocsv.Marshal(rows, w)
}

// Grid writes the grid file of the global grid with the given
// resolution and cell size to path, restricted to the land points of
// landMask if landPoints is true.
func Grid(path string, resolution, cellSize float64, landPoints bool, landMask, landMaskVariable string) error {
	g, err := ccism.NewGrid(resolution, cellSize)
	if err != nil {
		return err
	}
	if landPoints {
		if landMask == "" {
			return fmt.Errorf("ccism: a land mask file is required for a land grid")
		}
		mask, err := ccism.LoadLandMask(landMask, landMaskVariable)
		if err != nil {
			return err
		}
		if g, err = g.LandSubset(mask); err != nil {
			return err
		}
	}
	if err := g.Save(path); err != nil {
		return err
	}
	Log.WithFields(logrus.Fields{
		"points": g.NumActive(),
		"cells":  len(g.Cells()),
		"extent": g.Extent(),
	}).Info("wrote grid")
	return nil
}

// Download copies the archive at location to dir.
func Download(ctx context.Context, location, dir string, progress bool, retries int, w io.Writer) error {
	t := &cloud.Transfer{MaxRetries: uint64(retries), Log: Log}
	if progress {
		bar := newBar(-1, "downloading", w)
		t.Progress = func(string) { bar.Add(1) }
		defer bar.Finish()
	}
	names, err := t.Download(ctx, location, os.ExpandEnv(dir))
	if err != nil {
		return err
	}
	Log.WithFields(logrus.Fields{"files": len(names), "location": location}).Info("downloaded time series")
	return nil
}
