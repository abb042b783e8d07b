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

package ts

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/requestcache"
	"github.com/spatialmodel/ccism"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reader reads time series from an archive written by Reshuffle.
type Reader struct {
	// Dir is the directory holding the cell files.
	Dir string

	// Grid is the grid of the archive.
	Grid *ccism.Grid

	// Offsets are added to the values of the variables they are keyed by.
	Offsets map[string]float64

	// ScaleFactors multiply the values of the variables they are keyed by,
	// after any offset has been added.
	ScaleFactors map[string]float64

	// CacheSize is the number of cell indices held in memory. The default
	// is 16. CacheSize can only be changed before the first read.
	CacheSize int

	indexCache *requestcache.Cache
	indexInit  sync.Once
}

// NewReader opens the archive in dir, reading its grid from grid.nc.
func NewReader(dir string) (*Reader, error) {
	g, err := ccism.LoadGrid(filepath.Join(dir, ccism.GridFileName))
	if err != nil {
		return nil, err
	}
	return NewReaderWithGrid(dir, g), nil
}

// NewReaderWithGrid opens the archive in dir using grid g.
func NewReaderWithGrid(dir string, g *ccism.Grid) *Reader {
	return &Reader{Dir: dir, Grid: g, CacheSize: 16}
}

// TimeSeries is the record of one grid point.
type TimeSeries struct {
	GPI      int
	Lon, Lat float64
	Cell     int

	// Distance is the distance in meters between the requested location
	// and the grid point, for series read by location.
	Distance float64

	Time []time.Time
	Data map[string][]float64
}

// Summary holds descriptive statistics of the valid values of a series.
type Summary struct {
	Count          int
	Mean, Std      float64
	Min, Max       float64
	First, Last    time.Time
	MissingPercent float64
}

// Summary returns statistics of variable name, ignoring NaN values.
func (s *TimeSeries) Summary(name string) (Summary, error) {
	d, ok := s.Data[name]
	if !ok {
		return Summary{}, fmt.Errorf("ts: time series has no variable %s", name)
	}
	var valid []float64
	var o Summary
	for i, v := range d {
		if math.IsNaN(v) {
			continue
		}
		if len(valid) == 0 {
			o.First = s.Time[i]
		}
		o.Last = s.Time[i]
		valid = append(valid, v)
	}
	o.Count = len(valid)
	if len(d) > 0 {
		o.MissingPercent = 100 * float64(len(d)-len(valid)) / float64(len(d))
	}
	if len(valid) == 0 {
		o.Mean, o.Std, o.Min, o.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return o, nil
	}
	o.Mean, o.Std = stat.MeanStdDev(valid, nil)
	o.Min, o.Max = floats.Min(valid), floats.Max(valid)
	return o, nil
}

// cellIndex holds the times and locations of a cell file.
type cellIndex struct {
	times   []time.Time
	columns map[int]int // gpi to location
	nloc    int
	vars    []string // record variables other than time
}

// index returns the index of cell from the cache.
func (r *Reader) index(cell int) (*cellIndex, error) {
	r.indexInit.Do(func() {
		if r.CacheSize <= 0 {
			r.CacheSize = 1
		}
		r.indexCache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			return r.readIndex(request.(int))
		}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(r.CacheSize))
	})
	req := r.indexCache.NewRequest(context.TODO(), cell, strconv.Itoa(cell))
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.(*cellIndex), nil
}

func (r *Reader) readIndex(cell int) (*cellIndex, error) {
	f, cf, err := r.open(cell)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	nrec := int(cf.Header.NumRecs(fi.Size()))

	rr := cf.Reader(locationVar, nil, nil)
	buf := rr.Zero(-1)
	if _, err := rr.Read(buf); err != nil {
		return nil, fmt.Errorf("ts: reading %s from %s: %v", locationVar, CellFileName(cell), err)
	}
	loc := buf.([]int32)
	ci := &cellIndex{
		columns: make(map[int]int, len(loc)),
		nloc:    len(loc),
		times:   make([]time.Time, nrec),
	}
	for i, gpi := range loc {
		ci.columns[int(gpi)] = i
	}
	if nrec > 0 {
		tr := cf.Reader(timeVar, []int{0}, []int{nrec - 1})
		tbuf := tr.Zero(nrec)
		if _, err := tr.Read(tbuf); err != nil {
			return nil, fmt.Errorf("ts: reading time from %s: %v", CellFileName(cell), err)
		}
		for i, t := range tbuf.([]float64) {
			ci.times[i] = decodeTime(t)
		}
	}
	for _, v := range cf.Header.Variables() {
		if v != timeVar && cf.Header.IsRecordVariable(v) {
			ci.vars = append(ci.vars, v)
		}
	}
	return ci, nil
}

func (r *Reader) open(cell int) (*os.File, *cdf.File, error) {
	path := filepath.Join(r.Dir, CellFileName(cell))
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("ts: opening time series file: %v", err)
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("ts: reading %s: %v", path, err)
	}
	return f, cf, nil
}

// Read returns the time series of grid point gpi. If no variables are
// given, all variables in the archive are read.
func (r *Reader) Read(gpi int, vars ...string) (*TimeSeries, error) {
	if _, ok := r.Grid.Index(gpi); !ok {
		return nil, fmt.Errorf("ts: gpi %d is not a point of the archive grid", gpi)
	}
	lon, lat, err := r.Grid.GPI2LonLat(gpi)
	if err != nil {
		return nil, err
	}
	cell, err := r.Grid.GPI2Cell(gpi)
	if err != nil {
		return nil, err
	}
	ci, err := r.index(cell)
	if err != nil {
		return nil, err
	}
	col, ok := ci.columns[gpi]
	if !ok {
		return nil, fmt.Errorf("ts: gpi %d is missing from %s", gpi, CellFileName(cell))
	}
	if len(vars) == 0 {
		vars = ci.vars
	}

	f, cf, err := r.open(cell)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	nrec := len(ci.times)

	s := &TimeSeries{
		GPI:  gpi,
		Lon:  lon,
		Lat:  lat,
		Cell: cell,
		Time: append([]time.Time(nil), ci.times...),
		Data: make(map[string][]float64, len(vars)),
	}
	for _, v := range vars {
		if !cf.Header.IsRecordVariable(v) || v == timeVar {
			return nil, fmt.Errorf("ts: %s has no time series variable %s", CellFileName(cell), v)
		}
		d := make([]float64, nrec)
		if nrec > 0 {
			rr := cf.Reader(v, []int{0, 0}, []int{nrec - 1, ci.nloc - 1})
			buf := rr.Zero(nrec * ci.nloc)
			if _, err := rr.Read(buf); err != nil {
				return nil, fmt.Errorf("ts: reading %s from %s: %v", v, CellFileName(cell), err)
			}
			switch b := buf.(type) {
			case []float32:
				for i := range d {
					d[i] = float64(b[i*ci.nloc+col])
				}
			case []float64:
				for i := range d {
					d[i] = b[i*ci.nloc+col]
				}
			default:
				return nil, fmt.Errorf("ts: %s in %s has unsupported type %T", v, CellFileName(cell), buf)
			}
		}
		if o, ok := r.Offsets[v]; ok {
			floats.AddConst(o, d)
		}
		if sf, ok := r.ScaleFactors[v]; ok {
			floats.Scale(sf, d)
		}
		s.Data[v] = d
	}
	return s, nil
}

// ReadLonLat returns the time series of the grid point nearest to
// (lon, lat).
func (r *Reader) ReadLonLat(lon, lat float64, vars ...string) (*TimeSeries, error) {
	gpi, dist := r.Grid.LonLat2GPI(lon, lat)
	if gpi < 0 {
		return nil, fmt.Errorf("ts: the archive grid has no points")
	}
	s, err := r.Read(gpi, vars...)
	if err != nil {
		return nil, err
	}
	s.Distance = dist
	return s, nil
}
