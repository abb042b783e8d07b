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
	"os"

	"github.com/ctessum/cdf"
)

// GridFileName is the name of the grid file stored alongside the cell
// files of a time series archive.
const GridFileName = "grid.nc"

// Save writes the active points of the grid to a NetCDF file at path.
func (g *Grid) Save(path string) error {
	n := len(g.gpis)
	if n == 0 {
		return fmt.Errorf("ccism: cannot save a grid without active points")
	}
	h := cdf.NewHeader([]string{"gp"}, []int{n})
	h.AddAttribute("", "comment", "CCISM time series archive grid")
	h.AddAttribute("", "resolution", []float64{g.resolution})
	h.AddAttribute("", "cellsize", []float64{g.cellSize})
	h.AddAttribute("", "shape", []int32{int32(g.rows), int32(g.cols)})
	subset := "false"
	if g.subset {
		subset = "true"
	}
	h.AddAttribute("", "subset", subset)

	h.AddVariable("gpi", []string{"gp"}, []int32{0})
	h.AddAttribute("gpi", "long_name", "grid point index")
	h.AddVariable("lon", []string{"gp"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	h.AddAttribute("lon", "standard_name", "longitude")
	h.AddVariable("lat", []string{"gp"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddAttribute("lat", "standard_name", "latitude")
	h.AddVariable("cell", []string{"gp"}, []int32{0})
	h.AddAttribute("cell", "long_name", "cell id")
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("ccism: creating grid file: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ccism: creating grid file: %v", err)
	}
	cf, err := cdf.Create(f, h)
	if err != nil {
		f.Close()
		return fmt.Errorf("ccism: creating grid file: %v", err)
	}
	gpis := make([]int32, n)
	cells := make([]int32, n)
	for i := range g.gpis {
		gpis[i] = int32(g.gpis[i])
		cells[i] = int32(g.cells[i])
	}
	for _, v := range []struct {
		name string
		data interface{}
	}{{"gpi", gpis}, {"lon", g.lons}, {"lat", g.lats}, {"cell", cells}} {
		w := cf.Writer(v.name, []int{0}, []int{n})
		if _, err := w.Write(v.data); err != nil {
			f.Close()
			return fmt.Errorf("ccism: writing %s to grid file: %v", v.name, err)
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		f.Close()
		return fmt.Errorf("ccism: finalizing grid file: %v", err)
	}
	return f.Close()
}

// LoadGrid reads a grid written by Save.
func LoadGrid(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ccism: opening grid file: %v", err)
	}
	defer f.Close()
	cf, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("ccism: reading grid file %s: %v", path, err)
	}
	res, ok := cf.Header.GetAttribute("", "resolution").([]float64)
	if !ok || len(res) != 1 {
		return nil, fmt.Errorf("ccism: grid file %s has no resolution attribute", path)
	}
	cs, ok := cf.Header.GetAttribute("", "cellsize").([]float64)
	if !ok || len(cs) != 1 {
		return nil, fmt.Errorf("ccism: grid file %s has no cellsize attribute", path)
	}
	g, err := NewGrid(res[0], cs[0])
	if err != nil {
		return nil, fmt.Errorf("ccism: grid file %s: %v", path, err)
	}
	if s, _ := cf.Header.GetAttribute("", "subset").(string); s != "true" {
		return g, nil
	}
	r := cf.Reader("gpi", nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("ccism: reading gpi from grid file %s: %v", path, err)
	}
	gpi32 := buf.([]int32)
	gpis := make([]int, len(gpi32))
	for i, v := range gpi32 {
		gpis[i] = int(v)
	}
	return g.Subset(gpis)
}
