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
	"sort"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"gonum.org/v1/gonum/floats"
)

const (
	// Resolution is the edge length of the ESA CCI SM grid in degrees.
	Resolution = 0.25

	// CellSize is the edge length in degrees of the tiles that the
	// time series archive is partitioned into.
	CellSize = 5.0

	// earthRadius is the mean radius of the Earth [m].
	earthRadius = 6371000.0
)

// Grid is a regular global longitude-latitude grid whose points are
// grouped into square cells. A Grid may be restricted to a subset of
// active points, for example land points only.
//
// Grid point indices (GPIs) count row-major from the south-west corner:
// gpi = row*cols + col, where row 0 is the southernmost row. The points
// of a grid are ordered north-first, i.e. the first active point is in the
// northernmost row.
type Grid struct {
	resolution, cellSize float64
	rows, cols           int
	cellRows             int // number of cells in a column of cells

	// lonAxis and latAxis hold the cell-centre coordinates of each column
	// and row (south to north).
	lonAxis, latAxis []float64

	subset bool
	gpis   []int
	lons   []float64
	lats   []float64
	cells  []int

	// index maps gpi to position in gpis. It is nil for full grids.
	index map[int]int

	cellPointsInit sync.Once
	cellPoints     map[int][]int
	cellIDs        []int

	treeInit sync.Once
	tree     *rtree.Rtree
}

// NewCCIGrid returns the full 0.25° ESA CCI SM grid with 5° cells.
func NewCCIGrid() *Grid {
	g, err := NewGrid(Resolution, CellSize)
	if err != nil {
		panic(err)
	}
	return g
}

// NewGrid creates a full global grid with the given resolution and cell
// size, both in degrees.
func NewGrid(resolution, cellSize float64) (*Grid, error) {
	cols, ok := evenDivide(360, resolution)
	if !ok {
		return nil, fmt.Errorf("ccism: resolution %g does not evenly divide 360°", resolution)
	}
	rows, ok := evenDivide(180, resolution)
	if !ok || rows < 2 {
		return nil, fmt.Errorf("ccism: resolution %g does not evenly divide 180° into at least two rows", resolution)
	}
	cellRows, ok := evenDivide(180, cellSize)
	if !ok {
		return nil, fmt.Errorf("ccism: cell size %g does not evenly divide 180°", cellSize)
	}
	g := &Grid{
		resolution: resolution,
		cellSize:   cellSize,
		rows:       rows,
		cols:       cols,
		cellRows:   cellRows,
		lonAxis:    floats.Span(make([]float64, cols), -180+resolution/2, 180-resolution/2),
		latAxis:    floats.Span(make([]float64, rows), -90+resolution/2, 90-resolution/2),
	}
	n := rows * cols
	g.gpis = make([]int, 0, n)
	g.lons = make([]float64, 0, n)
	g.lats = make([]float64, 0, n)
	g.cells = make([]int, 0, n)
	for r := rows - 1; r >= 0; r-- {
		for c := 0; c < cols; c++ {
			lon, lat := g.lonAxis[c], g.latAxis[r]
			g.gpis = append(g.gpis, r*cols+c)
			g.lons = append(g.lons, lon)
			g.lats = append(g.lats, lat)
			g.cells = append(g.cells, g.cellOf(lon, lat))
		}
	}
	return g, nil
}

// evenDivide returns total/step if it is a whole number.
func evenDivide(total, step float64) (int, bool) {
	if step <= 0 {
		return 0, false
	}
	n := total / step
	r := math.Round(n)
	if math.Abs(n-r) > 1e-9 || r < 1 {
		return 0, false
	}
	return int(r), true
}

// Subset returns a new grid whose active points are the given gpis.
// The result keeps the point order of the receiver regardless of the order
// of gpis, and every point keeps its original gpi.
func (g *Grid) Subset(gpis []int) (*Grid, error) {
	want := make(map[int]struct{}, len(gpis))
	for _, gpi := range gpis {
		if gpi < 0 || gpi >= g.rows*g.cols {
			return nil, fmt.Errorf("ccism: subset gpi %d is outside of the grid", gpi)
		}
		want[gpi] = struct{}{}
	}
	s := &Grid{
		resolution: g.resolution,
		cellSize:   g.cellSize,
		rows:       g.rows,
		cols:       g.cols,
		cellRows:   g.cellRows,
		lonAxis:    g.lonAxis,
		latAxis:    g.latAxis,
		subset:     true,
		index:      make(map[int]int, len(want)),
	}
	for i, gpi := range g.gpis {
		if _, ok := want[gpi]; !ok {
			continue
		}
		s.index[gpi] = len(s.gpis)
		s.gpis = append(s.gpis, gpi)
		s.lons = append(s.lons, g.lons[i])
		s.lats = append(s.lats, g.lats[i])
		s.cells = append(s.cells, g.cells[i])
	}
	if len(s.gpis) != len(want) {
		return nil, fmt.Errorf("ccism: %d of the requested subset points are not active in the grid",
			len(want)-len(s.gpis))
	}
	return s, nil
}

// NewLandGrid returns the subset of the full grid with the resolution of
// mask and the given cell size that mask marks as land.
func NewLandGrid(mask *LandMask, cellSize float64) (*Grid, error) {
	g, err := NewGrid(mask.Resolution, cellSize)
	if err != nil {
		return nil, err
	}
	return g.LandSubset(mask)
}

// LandSubset returns the subset of g that mask marks as land. The mask
// must have the resolution of g.
func (g *Grid) LandSubset(mask *LandMask) (*Grid, error) {
	if math.Abs(mask.Resolution-g.resolution) > 1e-9 {
		return nil, fmt.Errorf("ccism: land mask resolution %g does not match the grid resolution %g",
			mask.Resolution, g.resolution)
	}
	return g.Subset(mask.GPIs())
}

// Resolution returns the grid spacing in degrees.
func (g *Grid) Resolution() float64 { return g.resolution }

// CellSize returns the cell edge length in degrees.
func (g *Grid) CellSize() float64 { return g.cellSize }

// Shape returns the number of rows and columns of the full raster.
func (g *Grid) Shape() (rows, cols int) { return g.rows, g.cols }

// IsSubset returns whether the grid only contains a subset of the full raster.
func (g *Grid) IsSubset() bool { return g.subset }

// NumActive returns the number of active points.
func (g *Grid) NumActive() int { return len(g.gpis) }

// ActivePoints returns the gpis, longitudes, latitudes and cell ids of the
// active points, aligned index-for-index in grid order. The returned
// slices are shared with the receiver and must not be modified.
func (g *Grid) ActivePoints() (gpis []int, lons, lats []float64, cells []int) {
	return g.gpis, g.lons, g.lats, g.cells
}

// Index returns the position of gpi among the active points.
func (g *Grid) Index(gpi int) (int, bool) {
	if gpi < 0 || gpi >= g.rows*g.cols {
		return -1, false
	}
	if g.index == nil {
		row, col := gpi/g.cols, gpi%g.cols
		return (g.rows-1-row)*g.cols + col, true
	}
	i, ok := g.index[gpi]
	return i, ok
}

// GPI2LonLat returns the coordinates of the centre of grid point gpi.
func (g *Grid) GPI2LonLat(gpi int) (lon, lat float64, err error) {
	if gpi < 0 || gpi >= g.rows*g.cols {
		return math.NaN(), math.NaN(), fmt.Errorf("ccism: gpi %d is outside of the valid range [0, %d)", gpi, g.rows*g.cols)
	}
	return g.lonAxis[gpi%g.cols], g.latAxis[gpi/g.cols], nil
}

// GPI2Cell returns the id of the cell that contains gpi.
func (g *Grid) GPI2Cell(gpi int) (int, error) {
	lon, lat, err := g.GPI2LonLat(gpi)
	if err != nil {
		return -1, err
	}
	return g.cellOf(lon, lat), nil
}

// cellOf numbers cells column-wise from the south-west corner, so that
// cell = lonIndex*cellRows + latIndex.
func (g *Grid) cellOf(lon, lat float64) int {
	lonCells := g.cellRows * 2
	i := int(math.Floor((lon + 180) / g.cellSize))
	if i >= lonCells {
		i = 0
	}
	j := int(math.Floor((lat + 90) / g.cellSize))
	if j >= g.cellRows {
		j = g.cellRows - 1
	}
	return i*g.cellRows + j
}

// CellBounds returns the extent of the given cell in degrees.
func (g *Grid) CellBounds(cell int) *geom.Bounds {
	i, j := cell/g.cellRows, cell%g.cellRows
	return &geom.Bounds{
		Min: geom.Point{X: -180 + float64(i)*g.cellSize, Y: -90 + float64(j)*g.cellSize},
		Max: geom.Point{X: -180 + float64(i+1)*g.cellSize, Y: -90 + float64(j+1)*g.cellSize},
	}
}

// Extent returns the combined extent of the cells that hold active points.
func (g *Grid) Extent() *geom.Bounds {
	b := geom.NewBounds()
	for _, cell := range g.Cells() {
		b.Extend(g.CellBounds(cell))
	}
	return b
}

// Cells returns the sorted ids of the cells that hold at least one active point.
func (g *Grid) Cells() []int {
	g.cellPointsInit.Do(g.indexCells)
	return g.cellIDs
}

// CellPoints returns the positions, in grid order, of the active points
// in the given cell.
func (g *Grid) CellPoints(cell int) []int {
	g.cellPointsInit.Do(g.indexCells)
	return g.cellPoints[cell]
}

func (g *Grid) indexCells() {
	g.cellPoints = make(map[int][]int)
	for i, c := range g.cells {
		g.cellPoints[c] = append(g.cellPoints[c], i)
	}
	g.cellIDs = make([]int, 0, len(g.cellPoints))
	for c := range g.cellPoints {
		g.cellIDs = append(g.cellIDs, c)
	}
	sort.Ints(g.cellIDs)
}

// LonLat2GPI returns the active grid point nearest to (lon, lat) and the
// great-circle distance to it in meters. The distance is zero for queries
// that are exactly on a grid node. Queries outside of the grid extent are
// wrapped (longitude) or clamped (latitude); they never fail. If the grid
// has no active points the result is (-1, +Inf).
func (g *Grid) LonLat2GPI(lon, lat float64) (gpi int, distance float64) {
	if len(g.gpis) == 0 {
		return -1, math.Inf(1)
	}
	nlon := math.Mod(lon+180, 360)
	if nlon < 0 {
		nlon += 360
	}
	nlon -= 180
	nlat := math.Max(-90, math.Min(90, lat))

	col := clamp(int(math.Floor((nlon+180)/g.resolution)), 0, g.cols-1)
	row := clamp(int(math.Floor((nlat+90)/g.resolution)), 0, g.rows-1)
	gpi = row*g.cols + col
	if _, ok := g.Index(gpi); ok {
		return gpi, haversine(nlon, nlat, g.lonAxis[col], g.latAxis[row])
	}
	return g.searchNearest(nlon, nlat)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// gridNode is an active grid point held in the spatial index.
type gridNode struct {
	geom.Point
	gpi int
}

func (g *Grid) buildTree() {
	g.tree = rtree.NewTree(25, 50)
	for i, gpi := range g.gpis {
		g.tree.Insert(&gridNode{Point: geom.Point{X: g.lons[i], Y: g.lats[i]}, gpi: gpi})
	}
}

// searchNearest finds the nearest active point using windows of
// increasing size around (lon, lat). A window that extends w degrees
// in latitude (and at least the equivalent arc in longitude) contains
// every point closer than w degrees of arc, so the search can stop as
// soon as the best candidate is within w.
func (g *Grid) searchNearest(lon, lat float64) (int, float64) {
	g.treeInit.Do(g.buildTree)
	best, bestDist := -1, math.Inf(1)
	for w := g.resolution; ; w *= 2 {
		for _, b := range searchWindows(lon, lat, w) {
			for _, item := range g.tree.SearchIntersect(b) {
				n := item.(*gridNode)
				d := haversine(lon, lat, n.X, n.Y)
				if d < bestDist || (d == bestDist && n.gpi < best) {
					best, bestDist = n.gpi, d
				}
			}
		}
		if best >= 0 && bestDist/earthRadius*180/math.Pi <= w {
			return best, bestDist
		}
		if w >= 360 {
			return best, bestDist
		}
	}
}

// searchWindows returns the bounding boxes that cover the points within
// w degrees of arc of (lon, lat), split at the antimeridian.
func searchWindows(lon, lat, w float64) []*geom.Bounds {
	minLat, maxLat := math.Max(-90, lat-w), math.Min(90, lat+w)
	edge := math.Max(math.Abs(minLat), math.Abs(maxLat))
	lonW := 180.0
	if edge < 89.99 {
		lonW = math.Min(180, w/math.Cos(edge*math.Pi/180))
	}
	if lonW >= 180 {
		return []*geom.Bounds{{Min: geom.Point{X: -180, Y: minLat}, Max: geom.Point{X: 180, Y: maxLat}}}
	}
	minLon, maxLon := lon-lonW, lon+lonW
	boxes := []*geom.Bounds{{
		Min: geom.Point{X: math.Max(-180, minLon), Y: minLat},
		Max: geom.Point{X: math.Min(180, maxLon), Y: maxLat},
	}}
	if minLon < -180 {
		boxes = append(boxes, &geom.Bounds{Min: geom.Point{X: minLon + 360, Y: minLat}, Max: geom.Point{X: 180, Y: maxLat}})
	}
	if maxLon > 180 {
		boxes = append(boxes, &geom.Bounds{Min: geom.Point{X: -180, Y: minLat}, Max: geom.Point{X: maxLon - 360, Y: maxLat}})
	}
	return boxes
}

// haversine returns the great-circle distance in meters between two
// points given in degrees.
func haversine(lon1, lat1, lon2, lat2 float64) float64 {
	if lon1 == lon2 && lat1 == lat2 {
		return 0
	}
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(a)))
}
