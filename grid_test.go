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
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestCCIGrid(t *testing.T) {
	g := NewCCIGrid()
	gpis, lons, lats, cells := g.ActivePoints()
	if len(gpis) != 1036800 {
		t.Fatalf("number of points: have %d, want 1036800", len(gpis))
	}
	if gpis[0] != 1035360 {
		t.Errorf("first point: have %d, want 1035360", gpis[0])
	}
	if n := len(g.Cells()); n != 2592 {
		t.Errorf("number of cells: have %d, want 2592", n)
	}

	tests := []struct {
		gpi      int
		lon, lat float64
		index    int
		cell     int
	}{
		{gpi: 602942, lon: 75.625, lat: 14.625, index: 434462, cell: 1856},
		{gpi: 642933, lon: -6.625, lat: 21.625, index: 393813, cell: 1246},
		{gpi: 153426, lon: 16.625, lat: -63.375, index: 883506, cell: 1409},
		{gpi: 911520, lon: -179.875, lat: 68.375, index: 123840, cell: 31},
	}
	for _, test := range tests {
		gpi, dist := g.LonLat2GPI(test.lon, test.lat)
		if gpi != test.gpi || dist != 0 {
			t.Errorf("LonLat2GPI(%g, %g) = (%d, %g), want (%d, 0)", test.lon, test.lat, gpi, dist, test.gpi)
		}
		lon, lat, err := g.GPI2LonLat(test.gpi)
		if err != nil {
			t.Fatal(err)
		}
		if lon != test.lon || lat != test.lat {
			t.Errorf("GPI2LonLat(%d) = (%g, %g), want (%g, %g)", test.gpi, lon, lat, test.lon, test.lat)
		}
		i, ok := g.Index(test.gpi)
		if !ok || i != test.index {
			t.Errorf("Index(%d) = %d, want %d", test.gpi, i, test.index)
		}
		if gpis[i] != test.gpi || lons[i] != test.lon || lats[i] != test.lat || cells[i] != test.cell {
			t.Errorf("active point %d = (%d, %g, %g, %d), want (%d, %g, %g, %d)", i,
				gpis[i], lons[i], lats[i], cells[i], test.gpi, test.lon, test.lat, test.cell)
		}
		cell, err := g.GPI2Cell(test.gpi)
		if err != nil {
			t.Fatal(err)
		}
		if cell != test.cell {
			t.Errorf("GPI2Cell(%d) = %d, want %d", test.gpi, cell, test.cell)
		}
	}
}

func TestGPI2LonLatOutOfRange(t *testing.T) {
	g := NewCCIGrid()
	for _, gpi := range []int{-1, 1036800} {
		if _, _, err := g.GPI2LonLat(gpi); err == nil {
			t.Errorf("gpi %d: expected an error", gpi)
		}
		if _, err := g.GPI2Cell(gpi); err == nil {
			t.Errorf("gpi %d: expected an error", gpi)
		}
	}
}

func TestBijection(t *testing.T) {
	g := NewCCIGrid()
	gpis, _, _, _ := g.ActivePoints()
	for i := 0; i < len(gpis); i += 97 {
		lon, lat, err := g.GPI2LonLat(gpis[i])
		if err != nil {
			t.Fatal(err)
		}
		gpi, dist := g.LonLat2GPI(lon, lat)
		if gpi != gpis[i] || dist != 0 {
			t.Fatalf("round trip of %d gave (%d, %g)", gpis[i], gpi, dist)
		}
	}
}

func TestCellStability(t *testing.T) {
	g1, g2 := NewCCIGrid(), NewCCIGrid()
	_, _, _, c1 := g1.ActivePoints()
	_, _, _, c2 := g2.ActivePoints()
	if !reflect.DeepEqual(c1, c2) {
		t.Error("cell ids differ between grid instances")
	}
}

func TestLonLat2GPIOffGrid(t *testing.T) {
	g := NewCCIGrid()
	tests := []struct {
		lon, lat float64
		gpi      int
	}{
		{lon: 75.7, lat: 14.6, gpi: 602942},
		{lon: 180, lat: 68.4, gpi: 911520},    // wraps to -180
		{lon: -539.9, lat: 68.4, gpi: 911520}, // wraps twice
		{lon: 0.1, lat: 95, gpi: 719*1440 + 720},
	}
	for _, test := range tests {
		gpi, dist := g.LonLat2GPI(test.lon, test.lat)
		if gpi != test.gpi {
			t.Errorf("LonLat2GPI(%g, %g) = %d, want %d", test.lon, test.lat, gpi, test.gpi)
		}
		if !(dist > 0) {
			t.Errorf("LonLat2GPI(%g, %g): distance %g should be positive", test.lon, test.lat, dist)
		}
	}
}

func TestSubset(t *testing.T) {
	g := NewCCIGrid()
	// Out of order and duplicated.
	s, err := g.Subset([]int{642933, 602942, 153426, 602942, 911520})
	if err != nil {
		t.Fatal(err)
	}
	gpis, _, _, cells := s.ActivePoints()
	want := []int{911520, 642933, 602942, 153426} // grid order is north first.
	if !reflect.DeepEqual(gpis, want) {
		t.Errorf("subset points: have %v, want %v", gpis, want)
	}
	if !reflect.DeepEqual(cells, []int{31, 1246, 1856, 1409}) {
		t.Errorf("subset cells: have %v", cells)
	}
	if !reflect.DeepEqual(s.Cells(), []int{31, 1246, 1409, 1856}) {
		t.Errorf("subset cell ids: have %v", s.Cells())
	}
	if i, ok := s.Index(642933); !ok || i != 1 {
		t.Errorf("Index(642933) = %d, %v", i, ok)
	}
	if _, ok := s.Index(0); ok {
		t.Error("gpi 0 should not be active")
	}

	// The nearest active point to a location next to 602942 is 602942.
	gpi, dist := s.LonLat2GPI(76.3, 15.1)
	if gpi != 602942 {
		t.Errorf("nearest subset point: have %d, want 602942", gpi)
	}
	if want := haversine(76.3, 15.1, 75.625, 14.625); math.Abs(dist-want) > 1e-6 {
		t.Errorf("distance: have %g, want %g", dist, want)
	}
	// Across the antimeridian.
	gpi, _ = s.LonLat2GPI(179.9, 68.4)
	if gpi != 911520 {
		t.Errorf("nearest point across the antimeridian: have %d, want 911520", gpi)
	}

	if _, err := g.Subset([]int{-5}); err == nil {
		t.Error("expected an error for an invalid subset point")
	}
}

func TestSubsetOrderPreserved(t *testing.T) {
	g := NewCCIGrid()
	var req []int
	for gpi := 1036799; gpi >= 0; gpi -= 1013 {
		req = append(req, gpi)
	}
	s, err := g.Subset(req)
	if err != nil {
		t.Fatal(err)
	}
	gpis, _, _, _ := s.ActivePoints()
	prev := -1
	for _, gpi := range gpis {
		i, _ := g.Index(gpi)
		if i <= prev {
			t.Fatalf("subset point %d is out of grid order", gpi)
		}
		prev = i
	}
}

func TestCellBounds(t *testing.T) {
	g := NewCCIGrid()
	b := g.CellBounds(1856)
	if b.Min.X != 75 || b.Max.X != 80 || b.Min.Y != 10 || b.Max.Y != 15 {
		t.Errorf("cell 1856 bounds: %+v", b)
	}
}

func TestExtent(t *testing.T) {
	g := NewCCIGrid()
	if b := g.Extent(); b.Min.X != -180 || b.Max.X != 180 || b.Min.Y != -90 || b.Max.Y != 90 {
		t.Errorf("full grid extent: %+v", b)
	}
	s, err := g.Subset([]int{642933, 602942, 153426, 911520})
	if err != nil {
		t.Fatal(err)
	}
	if b := s.Extent(); b.Min.X != -180 || b.Max.X != 80 || b.Min.Y != -65 || b.Max.Y != 70 {
		t.Errorf("subset extent: %+v", b)
	}
}

func TestNewGridInvalid(t *testing.T) {
	for _, c := range []struct{ res, cs float64 }{{0.7, 5}, {0.25, 7}, {0, 5}, {180, 5}} {
		if _, err := NewGrid(c.res, c.cs); err == nil {
			t.Errorf("NewGrid(%g, %g): expected an error", c.res, c.cs)
		}
	}
}

func TestGridFile(t *testing.T) {
	dir := t.TempDir()
	g := NewCCIGrid()
	s, err := g.Subset([]int{642933, 602942, 153426})
	if err != nil {
		t.Fatal(err)
	}
	for _, gg := range []*Grid{g, s} {
		path := filepath.Join(dir, GridFileName)
		if err := gg.Save(path); err != nil {
			t.Fatal(err)
		}
		l, err := LoadGrid(path)
		if err != nil {
			t.Fatal(err)
		}
		g1, lon1, lat1, c1 := gg.ActivePoints()
		g2, lon2, lat2, c2 := l.ActivePoints()
		if !reflect.DeepEqual(g1, g2) || !reflect.DeepEqual(lon1, lon2) ||
			!reflect.DeepEqual(lat1, lat2) || !reflect.DeepEqual(c1, c2) {
			t.Errorf("loaded grid (subset=%v) differs from saved grid", gg.IsSubset())
		}
		if l.IsSubset() != gg.IsSubset() {
			t.Errorf("subset flag: have %v, want %v", l.IsSubset(), gg.IsSubset())
		}
	}
}

// TestReferenceLandGrid checks the land grid built from the reference
// ESA CCI land mask. Set CCISM_LANDMASK to the mask file to run it.
func TestReferenceLandGrid(t *testing.T) {
	path := os.Getenv("CCISM_LANDMASK")
	if path == "" {
		t.Skip("CCISM_LANDMASK is not set")
	}
	mask, err := LoadLandMask(path, DefaultLandMaskVariable)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewLandGrid(mask, CellSize)
	if err != nil {
		t.Fatal(err)
	}
	gpis, lons, lats, _ := g.ActivePoints()
	if len(gpis) != 244243 {
		t.Errorf("land points: have %d, want 244243", len(gpis))
	}
	if gpis[0] != 999942 {
		t.Errorf("first land point: have %d, want 999942", gpis[0])
	}
	if n := len(g.Cells()); n != 1001 {
		t.Errorf("land cells: have %d, want 1001", n)
	}
	i, ok := g.Index(602942)
	if !ok || i != 177048 || lons[i] != 75.625 || lats[i] != 14.625 {
		t.Errorf("land point 602942 at index %d (%v)", i, ok)
	}
	if gpi, dist := g.LonLat2GPI(75.625, 14.625); gpi != 602942 || dist != 0 {
		t.Errorf("LonLat2GPI = (%d, %g)", gpi, dist)
	}
}
