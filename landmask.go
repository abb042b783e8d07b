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

	"github.com/batchatco/go-native-netcdf/netcdf"
)

// DefaultLandMaskVariable is the name of the land flag variable in the
// land mask file.
const DefaultLandMaskVariable = "land"

// LandMask flags the grid points of a regular global grid that are land.
type LandMask struct {
	// Resolution is the grid spacing of the mask in degrees.
	Resolution float64

	cols int
	land []bool // indexed by gpi
}

// LoadLandMask reads the land flag variable from the NetCDF file at path.
// The variable must have dimensions [lat, lon] (optionally preceded by a
// dimension of length one) covering the whole globe; nonzero values mark
// land. The orientation of the raster is taken from the file's lat and
// lon coordinate variables.
func LoadLandMask(path, variable string) (*LandMask, error) {
	if variable == "" {
		variable = DefaultLandMaskVariable
	}
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ccism: opening land mask %s: %v", path, err)
	}
	defer nc.Close()

	lat, err := readCoordinate(nc, "lat")
	if err != nil {
		return nil, fmt.Errorf("ccism: land mask %s: %v", path, err)
	}
	lon, err := readCoordinate(nc, "lon")
	if err != nil {
		return nil, fmt.Errorf("ccism: land mask %s: %v", path, err)
	}
	rows, cols := len(lat), len(lon)
	if rows < 2 || cols != 2*rows {
		return nil, fmt.Errorf("ccism: land mask %s: %d×%d is not a global raster", path, rows, cols)
	}

	v, err := nc.GetVariable(variable)
	if err != nil {
		return nil, fmt.Errorf("ccism: land mask %s: reading %s: %v", path, variable, err)
	}
	vals, _, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("ccism: land mask %s: %s: %v", path, variable, err)
	}
	if len(vals) < rows*cols {
		return nil, fmt.Errorf("ccism: land mask %s: %s has %d values; expected %d",
			path, variable, len(vals), rows*cols)
	}
	dec := newDecoder(attributes(v.Attributes))

	m := &LandMask{
		Resolution: 180 / float64(rows),
		cols:       cols,
		land:       make([]bool, rows*cols),
	}
	o := newOrientation(lat, lon)
	for gpi := range m.land {
		x := dec.decode(vals[o.offset(gpi)])
		m.land[gpi] = !math.IsNaN(x) && x != 0
	}
	return m, nil
}

// IsLand returns whether grid point gpi is land.
func (m *LandMask) IsLand(gpi int) bool {
	return gpi >= 0 && gpi < len(m.land) && m.land[gpi]
}

// GPIs returns the land grid points in ascending order.
func (m *LandMask) GPIs() []int {
	var o []int
	for gpi, l := range m.land {
		if l {
			o = append(o, gpi)
		}
	}
	return o
}

// Count returns the number of land points.
func (m *LandMask) Count() int {
	n := 0
	for _, l := range m.land {
		if l {
			n++
		}
	}
	return n
}
