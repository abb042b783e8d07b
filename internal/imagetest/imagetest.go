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

// Package imagetest writes small synthetic raster image files for tests.
package imagetest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctessum/cdf"
)

// Variable is a raster variable. Values are indexed by grid point
// index, i.e. row-major starting at the south-west corner.
type Variable struct {
	Name       string
	Values     []float32
	Attributes map[string]interface{}
}

// Raster describes an image file.
type Raster struct {
	Rows, Cols int

	// NorthFirst stores the northernmost row first, as the ESA CCI SM
	// products do.
	NorthFirst bool

	// LonDescending stores the easternmost column first.
	LonDescending bool

	// Time adds a leading time dimension of length one.
	Time bool

	Variables []Variable
}

// Write writes r as a NetCDF file at path, creating the directory if needed.
func Write(path string, r Raster) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	res := 180 / float64(r.Rows)
	lat := make([]float64, r.Rows)
	for i := range lat {
		row := i
		if r.NorthFirst {
			row = r.Rows - 1 - i
		}
		lat[i] = -90 + res/2 + float64(row)*res
	}
	lon := make([]float64, r.Cols)
	for i := range lon {
		col := i
		if r.LonDescending {
			col = r.Cols - 1 - i
		}
		lon[i] = -180 + res/2 + float64(col)*res
	}

	dims := []string{"lat", "lon"}
	lengths := []int{r.Rows, r.Cols}
	if r.Time {
		dims = []string{"time", "lat", "lon"}
		lengths = []int{1, r.Rows, r.Cols}
	}
	h := cdf.NewHeader(dims, lengths)
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	if r.Time {
		h.AddVariable("time", []string{"time"}, []float64{0})
		h.AddAttribute("time", "units", "days since 1970-01-01 00:00:00 UTC")
	}
	for _, v := range r.Variables {
		h.AddVariable(v.Name, dims, []float32{0})
		for k, a := range v.Attributes {
			h.AddAttribute(v.Name, k, a)
		}
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("imagetest: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	cf, err := cdf.Create(f, h)
	if err != nil {
		return err
	}
	if _, err := cf.Writer("lat", []int{0}, []int{r.Rows}).Write(lat); err != nil {
		return fmt.Errorf("imagetest: writing lat: %v", err)
	}
	if _, err := cf.Writer("lon", []int{0}, []int{r.Cols}).Write(lon); err != nil {
		return fmt.Errorf("imagetest: writing lon: %v", err)
	}
	if r.Time {
		if _, err := cf.Writer("time", []int{0}, []int{1}).Write([]float64{0}); err != nil {
			return fmt.Errorf("imagetest: writing time: %v", err)
		}
	}
	begin, end := []int{0, 0}, []int{r.Rows, 0}
	if r.Time {
		begin, end = []int{0, 0, 0}, []int{1, 0, 0}
	}
	for _, v := range r.Variables {
		if len(v.Values) != r.Rows*r.Cols {
			return fmt.Errorf("imagetest: %s has %d values; expected %d", v.Name, len(v.Values), r.Rows*r.Cols)
		}
		data := make([]float32, len(v.Values))
		for gpi, x := range v.Values {
			row, col := gpi/r.Cols, gpi%r.Cols
			if r.NorthFirst {
				row = r.Rows - 1 - row
			}
			if r.LonDescending {
				col = r.Cols - 1 - col
			}
			data[row*r.Cols+col] = x
		}
		if _, err := cf.Writer(v.Name, begin, end).Write(data); err != nil {
			return fmt.Errorf("imagetest: writing %s: %v", v.Name, err)
		}
	}
	return cdf.UpdateNumRecs(f)
}

// Ramp returns n values where the value of grid point i is i + offset.
func Ramp(n int, offset float32) []float32 {
	o := make([]float32, n)
	for i := range o {
		o[i] = float32(i) + offset
	}
	return o
}
