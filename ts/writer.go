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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ctessum/cdf"
	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ccism"
)

const (
	timeVar     = "time"
	locationVar = "location_id"
	lonVar      = "lon"
	latVar      = "lat"

	timeUnits = "days since 1900-01-01 00:00:00"
)

var timeEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// CellFileName returns the name of the time series file of cell.
func CellFileName(cell int) string {
	return fmt.Sprintf("%04d.nc", cell)
}

// encodeTime converts t to days since timeEpoch.
func encodeTime(t time.Time) float64 {
	s := t.Unix() - timeEpoch.Unix()
	return (float64(s) + float64(t.Nanosecond())/1e9) / 86400
}

// decodeTime converts days since timeEpoch to a time, rounded to the
// nearest millisecond.
func decodeTime(days float64) time.Time {
	ms := math.Round(days * 86400 * 1000)
	return timeEpoch.Add(time.Duration(ms) * time.Millisecond)
}

// cellFile is an open time series file.
type cellFile struct {
	cell int
	f    *os.File
	cf   *cdf.File
	nrec int // number of records in the file
	nloc int // number of locations in the file

	refs    int  // number of writers using the file
	evicted bool // close when refs drops to zero
}

func (c *cellFile) close() error {
	if err := cdf.UpdateNumRecs(c.f); err != nil {
		c.f.Close()
		return fmt.Errorf("ts: finalizing %s: %v", CellFileName(c.cell), err)
	}
	return c.f.Close()
}

// cellWriter appends images to the time series files of the cells of a
// grid. Open files are kept in an LRU cache so that files of recently
// written cells do not need to be reopened at every flush.
type cellWriter struct {
	dir   string
	grid  *ccism.Grid
	meta  *ccism.Metadata
	vars  []string
	types map[string]string
	log   logrus.FieldLogger

	mu       sync.Mutex
	open     *lru.Cache
	closeErr error
}

func newCellWriter(dir string, grid *ccism.Grid, meta *ccism.Metadata, vars []string, openFiles int, log logrus.FieldLogger) *cellWriter {
	if openFiles <= 0 {
		openFiles = 1
	}
	w := &cellWriter{
		dir:  dir,
		grid: grid,
		meta: meta,
		vars: vars,
		log:  log,
		open: lru.New(openFiles),
	}
	w.open.OnEvicted = func(key lru.Key, value interface{}) {
		c := value.(*cellFile)
		if c.refs > 0 {
			c.evicted = true
			return
		}
		w.finish(c)
	}
	return w
}

// finish closes c and remembers the first error. The caller holds w.mu.
func (w *cellWriter) finish(c *cellFile) {
	if err := c.close(); err != nil && w.closeErr == nil {
		w.closeErr = err
	}
}

// setTypes records the storage type of each variable. It must be called
// before the first write. Variables read as float64 are stored as
// float64; everything else is stored as float32.
func (w *cellWriter) setTypes(img *ccism.Image) {
	w.types = make(map[string]string, len(w.vars))
	for _, v := range w.vars {
		if img.Types[v] == "float64" {
			w.types[v] = "float64"
		} else {
			w.types[v] = "float32"
		}
	}
}

// acquire returns the open file of cell, opening or creating it if needed.
func (w *cellWriter) acquire(cell int) (*cellFile, error) {
	w.mu.Lock()
	if v, ok := w.open.Get(cell); ok {
		c := v.(*cellFile)
		c.refs++
		w.mu.Unlock()
		return c, nil
	}
	w.mu.Unlock()

	c, err := w.createOrOpen(cell)
	if err != nil {
		return nil, err
	}
	c.refs = 1

	w.mu.Lock()
	w.open.Add(cell, c)
	w.mu.Unlock()
	return c, nil
}

func (w *cellWriter) release(c *cellFile) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c.refs--
	if c.evicted && c.refs == 0 {
		w.finish(c)
	}
}

// close finalizes all open files.
func (w *cellWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.open.Clear()
	return w.closeErr
}

// write appends the values of imgs at the points of cell to the cell's
// file, one record per image in the given order.
func (w *cellWriter) write(cell int, imgs []*ccism.Image) error {
	if len(imgs) == 0 {
		return nil
	}
	points := w.grid.CellPoints(cell)
	if len(points) == 0 {
		return nil
	}
	c, err := w.acquire(cell)
	if err != nil {
		return err
	}
	defer w.release(c)
	if c.nloc != len(points) {
		return fmt.Errorf("ts: %s has %d locations but cell %d has %d active points",
			CellFileName(cell), c.nloc, cell, len(points))
	}

	times := make([]float64, len(imgs))
	for i, img := range imgs {
		times[i] = encodeTime(img.Timestamp)
	}
	if _, err := c.cf.Writer(timeVar, []int{c.nrec}, nil).Write(times); err != nil {
		return fmt.Errorf("ts: writing time to %s: %v", CellFileName(cell), err)
	}
	for _, v := range w.vars {
		var block interface{}
		if w.types[v] == "float64" {
			b := make([]float64, 0, len(imgs)*len(points))
			for _, img := range imgs {
				d := img.Data[v]
				for _, p := range points {
					b = append(b, d[p])
				}
			}
			block = b
		} else {
			b := make([]float32, 0, len(imgs)*len(points))
			for _, img := range imgs {
				d := img.Data[v]
				for _, p := range points {
					b = append(b, float32(d[p]))
				}
			}
			block = b
		}
		if _, err := c.cf.Writer(v, []int{c.nrec, 0}, nil).Write(block); err != nil {
			return fmt.Errorf("ts: writing %s to %s: %v", v, CellFileName(cell), err)
		}
	}
	c.nrec += len(imgs)
	return nil
}

// createOrOpen creates the file for cell, or opens it for appending if
// it already exists.
func (w *cellWriter) createOrOpen(cell int) (*cellFile, error) {
	path := filepath.Join(w.dir, CellFileName(cell))
	if _, err := os.Stat(path); err == nil {
		return w.openExisting(cell, path)
	}

	points := w.grid.CellPoints(cell)
	gpis, lons, lats, _ := w.grid.ActivePoints()
	n := len(points)

	h := cdf.NewHeader([]string{timeVar, "locations"}, []int{0, n})
	for _, k := range ccism.SortedKeys(w.meta.Global) {
		if v, ok := attributeValue(w.meta.Global[k], ""); ok {
			h.AddAttribute("", k, v)
		}
	}
	h.AddAttribute("", "featureType", "timeSeries")

	h.AddVariable(timeVar, []string{timeVar}, []float64{0})
	h.AddAttribute(timeVar, "units", timeUnits)
	h.AddAttribute(timeVar, "standard_name", "time")
	h.AddAttribute(timeVar, "calendar", "standard")
	h.AddVariable(locationVar, []string{"locations"}, []int32{0})
	h.AddAttribute(locationVar, "long_name", "grid point index")
	h.AddAttribute(locationVar, "cf_role", "timeseries_id")
	h.AddVariable(lonVar, []string{"locations"}, []float64{0})
	h.AddAttribute(lonVar, "units", "degrees_east")
	h.AddAttribute(lonVar, "standard_name", "longitude")
	h.AddVariable(latVar, []string{"locations"}, []float64{0})
	h.AddAttribute(latVar, "units", "degrees_north")
	h.AddAttribute(latVar, "standard_name", "latitude")

	for _, v := range w.vars {
		dtype := w.types[v]
		if dtype == "float64" {
			h.AddVariable(v, []string{timeVar, "locations"}, []float64{0})
		} else {
			h.AddVariable(v, []string{timeVar, "locations"}, []float32{0})
		}
		attrs := w.meta.Variables[v]
		for _, k := range ccism.SortedKeys(attrs) {
			if k == "_FillValue" {
				continue
			}
			typed := ""
			switch k {
			case "valid_range", "valid_min", "valid_max", "missing_value":
				typed = dtype
			}
			if val, ok := attributeValue(attrs[k], typed); ok {
				h.AddAttribute(v, k, val)
			}
		}
		if dtype == "float64" {
			h.AddAttribute(v, "_FillValue", []float64{math.NaN()})
		} else {
			h.AddAttribute(v, "_FillValue", []float32{float32(math.NaN())})
		}
	}
	h.Define()
	for _, err := range h.Check() {
		return nil, fmt.Errorf("ts: creating %s: %v", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ts: creating %s: %v", path, err)
	}
	cf, err := cdf.Create(f, h)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ts: creating %s: %v", path, err)
	}

	loc := make([]int32, n)
	lon := make([]float64, n)
	lat := make([]float64, n)
	for i, p := range points {
		loc[i] = int32(gpis[p])
		lon[i] = lons[p]
		lat[i] = lats[p]
	}
	for _, v := range []struct {
		name string
		data interface{}
	}{{locationVar, loc}, {lonVar, lon}, {latVar, lat}} {
		if _, err := cf.Writer(v.name, []int{0}, []int{n}).Write(v.data); err != nil {
			f.Close()
			return nil, fmt.Errorf("ts: writing %s to %s: %v", v.name, path, err)
		}
	}
	return &cellFile{cell: cell, f: f, cf: cf, nloc: n}, nil
}

// openExisting opens a cell file for appending.
func (w *cellWriter) openExisting(cell int, path string) (*cellFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("ts: opening %s: %v", path, err)
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ts: initializing existing file %s: %v", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	have := make(map[string]bool)
	for _, v := range cf.Header.Variables() {
		have[v] = true
	}
	for _, v := range []string{timeVar, locationVar} {
		if !have[v] {
			f.Close()
			return nil, fmt.Errorf("ts: existing file %s has no variable %s", path, v)
		}
	}
	// Every record variable must be written at each append, or the
	// file would end partway through a record.
	want := make(map[string]bool, len(w.vars))
	for _, v := range w.vars {
		want[v] = true
	}
	var stored []string
	for _, v := range cf.Header.Variables() {
		if v != timeVar && cf.Header.IsRecordVariable(v) {
			stored = append(stored, v)
		}
	}
	match := len(stored) == len(want)
	for _, v := range stored {
		match = match && want[v]
	}
	if !match {
		f.Close()
		return nil, fmt.Errorf("ts: existing file %s holds variables %v but %v are being written",
			path, stored, w.vars)
	}
	return &cellFile{
		cell: cell,
		f:    f,
		cf:   cf,
		nrec: int(cf.Header.NumRecs(fi.Size())),
		nloc: cf.Header.Lengths(locationVar)[0],
	}, nil
}

// attributeValue converts a metadata value into a type that can be
// stored as a NetCDF attribute. Numeric values are stored with type
// dtype ("float32" or "float64") if it is set; otherwise integers are
// stored as int32 and other numbers as float64.
func attributeValue(v interface{}, dtype string) (interface{}, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case time.Time:
		return t.Format(time.RFC3339), true
	case []interface{}:
		return numericAttribute(t, dtype)
	default:
		return numericAttribute([]interface{}{t}, dtype)
	}
}

func numericAttribute(vals []interface{}, dtype string) (interface{}, bool) {
	if len(vals) == 0 {
		return nil, false
	}
	f := make([]float64, len(vals))
	ints := true
	for i, v := range vals {
		switch t := v.(type) {
		case int64:
			f[i] = float64(t)
		case int:
			f[i] = float64(t)
		case int32:
			f[i] = float64(t)
		case float64:
			f[i] = t
			ints = false
		case float32:
			f[i] = float64(t)
			ints = false
		default:
			return nil, false
		}
	}
	switch {
	case dtype == "float32":
		o := make([]float32, len(f))
		for i, x := range f {
			o[i] = float32(x)
		}
		return o, true
	case dtype == "float64":
		return f, true
	case ints:
		o := make([]int32, len(f))
		for i, x := range f {
			o[i] = int32(x)
		}
		return o, true
	}
	return f, true
}
