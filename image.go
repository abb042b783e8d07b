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

package ccism

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/sirupsen/logrus"
)

// coordinateVars are never treated as data variables.
var coordinateVars = map[string]bool{"lat": true, "lon": true, "time": true}

// Image holds the variables of one raster file for one timestamp,
// addressed by the active points of a Grid.
type Image struct {
	Timestamp time.Time

	// Data holds the decoded values of each variable, one value per
	// active grid point in grid order. Missing values are NaN.
	Data map[string][]float64

	// Metadata holds the attributes of each variable as stored in the file.
	Metadata map[string]map[string]interface{}

	// Types holds the Go name of the stored element type of each
	// variable that was read successfully, e.g. "float32".
	Types map[string]string

	// Corrupt lists the requested variables that could not be read and
	// were filled with NaN.
	Corrupt []string

	grid *Grid
}

// Grid returns the grid that the image is addressed by.
func (img *Image) Grid() *Grid { return img.grid }

// Value returns the value of variable name at grid point gpi.
func (img *Image) Value(name string, gpi int) (float64, error) {
	d, ok := img.Data[name]
	if !ok {
		return math.NaN(), fmt.Errorf("ccism: image has no variable %s", name)
	}
	i, ok := img.grid.Index(gpi)
	if !ok {
		return math.NaN(), fmt.Errorf("ccism: gpi %d is not an active point of the image grid", gpi)
	}
	return d[i], nil
}

// To2D returns variable name as a (rows, cols) raster whose first row is
// the northernmost row. It is only available for images on a full grid.
func (img *Image) To2D(name string) ([][]float64, error) {
	if img.grid.IsSubset() {
		return nil, fmt.Errorf("ccism: 2D output is not supported for subset grids")
	}
	d, ok := img.Data[name]
	if !ok {
		return nil, fmt.Errorf("ccism: image has no variable %s", name)
	}
	rows, cols := img.grid.Shape()
	o := make([][]float64, rows)
	for r := range o {
		o[r] = d[r*cols : (r+1)*cols]
	}
	return o, nil
}

// ImageReader reads raster image files onto the active points of Grid.
type ImageReader struct {
	Grid *Grid

	// Variables are the variables to read. If empty, every
	// non-coordinate raster variable in the file is read.
	Variables []string

	// Log receives warnings about corrupt variables. The default is the
	// logrus standard logger.
	Log logrus.FieldLogger
}

// Read reads the image file at path and labels it with timestamp t.
// An error opening or interpreting the file is returned; a requested
// variable that is absent or unreadable is instead filled with NaN,
// logged and recorded in Image.Corrupt.
func (r *ImageReader) Read(path string, t time.Time) (*Image, error) {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ccism: opening image %s: %v", path, err)
	}
	defer nc.Close()

	lat, err := readCoordinate(nc, "lat")
	if err != nil {
		return nil, fmt.Errorf("ccism: image %s: %v", path, err)
	}
	lon, err := readCoordinate(nc, "lon")
	if err != nil {
		return nil, fmt.Errorf("ccism: image %s: %v", path, err)
	}
	rows, cols := r.Grid.Shape()
	if len(lat) != rows || len(lon) != cols {
		return nil, fmt.Errorf("ccism: image %s is %d×%d but the grid is %d×%d",
			path, len(lat), len(lon), rows, cols)
	}
	o := newOrientation(lat, lon)

	vars := r.Variables
	if len(vars) == 0 {
		vars = rasterVariables(nc)
	}

	img := &Image{
		Timestamp: t,
		Data:      make(map[string][]float64, len(vars)),
		Metadata:  make(map[string]map[string]interface{}, len(vars)),
		Types:     make(map[string]string, len(vars)),
		grid:      r.Grid,
	}
	gpis, _, _, _ := r.Grid.ActivePoints()
	for _, name := range vars {
		raw, attrs, kind, err := readRaster(nc, name, rows*cols)
		if err != nil {
			log.WithFields(logrus.Fields{
				"file":     filepath.Base(path),
				"variable": name,
			}).Warnf("%v; filling image with NaN values", err)
			img.Data[name] = nanSlice(len(gpis))
			img.Corrupt = append(img.Corrupt, name)
			continue
		}
		dec := newDecoder(attrs)
		d := make([]float64, len(gpis))
		for i, gpi := range gpis {
			d[i] = dec.decode(raw[o.offset(gpi)])
		}
		img.Data[name] = d
		img.Metadata[name] = attrs
		img.Types[name] = kind
	}
	return img, nil
}

// DiscoverVariables returns the non-coordinate raster variables of the
// NetCDF file at path.
func DiscoverVariables(path string) ([]string, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ccism: opening %s: %v", path, err)
	}
	defer nc.Close()
	return rasterVariables(nc), nil
}

// rasterVariables lists the variables whose last two dimensions are
// lat and lon.
func rasterVariables(nc api.Group) []string {
	var o []string
	for _, name := range nc.ListVariables() {
		if coordinateVars[name] {
			continue
		}
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			continue
		}
		dims := vg.Dimensions()
		if len(dims) < 2 || dims[len(dims)-2] != "lat" || dims[len(dims)-1] != "lon" {
			continue
		}
		o = append(o, name)
	}
	return o
}

// readRaster reads the first n values of variable name.
func readRaster(nc api.Group, name string, n int) ([]float64, map[string]interface{}, string, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, nil, "", fmt.Errorf("variable %s is missing or unreadable: %v", name, err)
	}
	vals, kind, err := flatten(v.Values)
	if err != nil {
		return nil, nil, "", fmt.Errorf("variable %s: %v", name, err)
	}
	if len(vals) < n || len(vals)%n != 0 {
		return nil, nil, "", fmt.Errorf("variable %s has %d values, which is not a whole number of %d-point rasters",
			name, len(vals), n)
	}
	return vals[:n], attributes(v.Attributes), kind, nil
}

// readCoordinate reads the 1D coordinate variable name.
func readCoordinate(nc api.Group, name string) ([]float64, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("reading coordinate %s: %v", name, err)
	}
	c, _, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %v", name, err)
	}
	if len(c) == 0 {
		return nil, fmt.Errorf("coordinate %s is empty", name)
	}
	return c, nil
}

// orientation maps grid points onto the storage order of a raster file.
type orientation struct {
	rows, cols    int
	northFirst    bool
	lonDescending bool
}

func newOrientation(lat, lon []float64) orientation {
	return orientation{
		rows:          len(lat),
		cols:          len(lon),
		northFirst:    lat[0] > lat[len(lat)-1],
		lonDescending: lon[0] > lon[len(lon)-1],
	}
}

// offset returns the storage offset of grid point gpi.
func (o orientation) offset(gpi int) int {
	row, col := gpi/o.cols, gpi%o.cols
	if o.northFirst {
		row = o.rows - 1 - row
	}
	if o.lonDescending {
		col = o.cols - 1 - col
	}
	return row*o.cols + col
}

func nanSlice(n int) []float64 {
	o := make([]float64, n)
	for i := range o {
		o[i] = math.NaN()
	}
	return o
}
