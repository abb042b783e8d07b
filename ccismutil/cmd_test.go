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
	"bytes"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ccism"
	"github.com/spatialmodel/ccism/internal/imagetest"
)

func init() {
	Log.SetLevel(logrus.WarnLevel)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2016-01-01", want: time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2016-01-01T06:00", want: time.Date(2016, 1, 1, 6, 0, 0, 0, time.UTC)},
		{in: " 2016-01-01T21:00:00", want: time.Date(2016, 1, 1, 21, 0, 0, 0, time.UTC)},
	}
	for _, test := range tests {
		have, err := parseTime(test.in)
		if err != nil {
			t.Fatal(err)
		}
		if !have.Equal(test.want) {
			t.Errorf("parseTime(%q) = %v, want %v", test.in, have, test.want)
		}
	}
	for _, bad := range []string{"", "2016/01/01", "20160101"} {
		if _, err := parseTime(bad); err == nil {
			t.Errorf("parseTime(%q): expected an error", bad)
		}
	}
}

func TestParseFactors(t *testing.T) {
	have, err := parseFactors([]string{"sm=0.5", " sm_uncertainty = -2"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{"sm": 0.5, "sm_uncertainty": -2}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("have %v, want %v", have, want)
	}
	if have, err := parseFactors(nil); err != nil || have != nil {
		t.Errorf("empty input gave (%v, %v)", have, err)
	}
	for _, bad := range []string{"sm", "=1", "sm=x"} {
		if _, err := parseFactors([]string{bad}); err == nil {
			t.Errorf("parseFactors(%q): expected an error", bad)
		}
	}
}

// writeImages writes 9° images where the sm value of grid point gpi on
// day d of January 2000 is gpi + 1000*d.
func writeImages(t *testing.T, root string, days ...int) {
	for _, d := range days {
		ts := time.Date(2000, 1, d, 0, 0, 0, 0, time.UTC)
		path := filepath.Join(root, "2000",
			"ESACCI-SOILMOISTURE-L3S-SSMV-COMBINED-"+ts.Format(ccism.DefaultTimeFormat)+"-fv04.2.nc")
		err := imagetest.Write(path, imagetest.Raster{
			Rows: 20, Cols: 40, NorthFirst: true, Time: true,
			Variables: []imagetest.Variable{
				{Name: "sm", Values: imagetest.Ramp(800, float32(1000*d))},
				{Name: "flag", Values: make([]float32, 800)},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	Root.SetOut(&buf)
	Root.SetErr(&buf)
	Root.SetArgs(args)
	defer Root.SetOut(nil)
	defer Root.SetErr(nil)
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

// TestCommands runs the commands in sequence. Flag values persist
// between executions, and slice flags accumulate.
func TestCommands(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "images")
	out := filepath.Join(dir, "ts")
	remote := filepath.Join(dir, "remote")
	writeImages(t, in, 1, 2)

	t.Run("version", func(t *testing.T) {
		if have, want := execute(t, "version"), "CCISM v"+ccism.Version+"\n"; have != want {
			t.Errorf("have %q, want %q", have, want)
		}
	})

	t.Run("reshuffle", func(t *testing.T) {
		execute(t, "reshuffle", in, out, "2000-01-01", "2000-01-02",
			"--resolution=9", "--cell_size=45", "--ignore_meta", "--progress=false",
			"--buffer_size=1", "--upload=file://"+remote)
		for _, name := range []string{ccism.GridFileName, "0000.nc", "0031.nc"} {
			for _, d := range []string{out, remote} {
				if _, err := os.Stat(filepath.Join(d, name)); err != nil {
					t.Error(err)
				}
			}
		}
	})

	t.Run("read_gpi", func(t *testing.T) {
		have := execute(t, "read", out, "--gpi=41", "-p", "sm")
		want := "time,variable,value\n" +
			"2000-01-01T00:00:00Z,sm,1041\n" +
			"2000-01-02T00:00:00Z,sm,2041\n"
		if have != want {
			t.Errorf("have %q, want %q", have, want)
		}
	})

	t.Run("summary", func(t *testing.T) {
		have := execute(t, "read", out, "--gpi=41", "--summary")
		var rows []summaryRow
		if err := gocsv.Unmarshal(strings.NewReader(have), &rows); err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 {
			t.Fatalf("have %d summary rows, want 1", len(rows))
		}
		r := rows[0]
		if r.Variable != "sm" || r.Count != 2 || r.Mean != 1541 || r.Min != 1041 || r.Max != 2041 ||
			r.MissingPercent != 0 || r.First != "2000-01-01T00:00:00Z" || r.Last != "2000-01-02T00:00:00Z" {
			t.Errorf("summary: %+v", r)
		}
		if math.Abs(r.Std-500*math.Sqrt2) > 1e-9 {
			t.Errorf("std: have %g, want %g", r.Std, 500*math.Sqrt2)
		}
	})

	t.Run("read_lonlat_scaled", func(t *testing.T) {
		have := execute(t, "read", out, "--summary=false", "--gpi=-1", "--lon=-166", "--lat=-76",
			"--offsets=sm=-1000", "--scale_factors=sm=2")
		want := "time,variable,value\n" +
			"2000-01-01T00:00:00Z,sm,82\n" +
			"2000-01-02T00:00:00Z,sm,2082\n"
		if have != want {
			t.Errorf("have %q, want %q", have, want)
		}
	})

	t.Run("download", func(t *testing.T) {
		local := filepath.Join(dir, "local")
		execute(t, "download", "file://"+remote, local, "--progress=false")
		g, err := ccism.LoadGrid(filepath.Join(local, ccism.GridFileName))
		if err != nil {
			t.Fatal(err)
		}
		if g.NumActive() != 800 || len(g.Cells()) != 32 {
			t.Errorf("downloaded grid has %d points in %d cells", g.NumActive(), len(g.Cells()))
		}
	})

	t.Run("grid", func(t *testing.T) {
		path := filepath.Join(dir, "grid9.nc")
		execute(t, "grid", path)
		g, err := ccism.LoadGrid(path)
		if err != nil {
			t.Fatal(err)
		}
		if g.Resolution() != 9 || g.IsSubset() || g.NumActive() != 800 {
			t.Errorf("grid: resolution %g, subset %v, %d points", g.Resolution(), g.IsSubset(), g.NumActive())
		}
	})
}

func TestReshuffleArgs(t *testing.T) {
	if _, err := ReshuffleConfig([]string{"in", "out", "2000-01-01"}); err == nil {
		t.Error("expected an error for missing arguments")
	}
	if _, err := ReshuffleConfig([]string{"in", "out", "2000-01-01", "January"}); err == nil {
		t.Error("expected an error for an invalid date")
	}
}

func TestGridLandPointsNeedsMask(t *testing.T) {
	if err := Grid(filepath.Join(t.TempDir(), "grid.nc"), 9, 45, true, "", "land"); err == nil {
		t.Error("expected an error without a land mask")
	}
}

func TestGridLandPoints(t *testing.T) {
	dir := t.TempDir()
	mask := filepath.Join(dir, "mask.nc")
	land := make([]float32, 800)
	land[41], land[799] = 1, 1
	err := imagetest.Write(mask, imagetest.Raster{
		Rows: 20, Cols: 40, NorthFirst: true,
		Variables: []imagetest.Variable{{Name: "land", Values: land}},
	})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "land.nc")
	if err := Grid(path, 9, 45, true, mask, "land"); err != nil {
		t.Fatal(err)
	}
	g, err := ccism.LoadGrid(path)
	if err != nil {
		t.Fatal(err)
	}
	gpis, _, _, _ := g.ActivePoints()
	if !reflect.DeepEqual(gpis, []int{799, 41}) || !g.IsSubset() {
		t.Errorf("land grid points: %v (subset %v)", gpis, g.IsSubset())
	}
	if err := Grid(path, 18, 45, true, mask, "land"); err == nil {
		t.Error("a land mask with another resolution should be rejected")
	}
}
