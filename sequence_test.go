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
	"io"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spatialmodel/ccism/internal/imagetest"
)

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestTimestampsDaily(t *testing.T) {
	d := &Dataset{Cadence: Daily}
	have := d.Timestamps(date(2015, 12, 30, 0), date(2016, 1, 2, 0))
	want := []time.Time{date(2015, 12, 30, 0), date(2015, 12, 31, 0), date(2016, 1, 1, 0), date(2016, 1, 2, 0)}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("have %v, want %v", have, want)
	}
	if n := len(d.Timestamps(date(2016, 1, 2, 0), date(2016, 1, 1, 0))); n != 0 {
		t.Errorf("reversed range gave %d timestamps", n)
	}
}

func TestTimestampsThreeHourly(t *testing.T) {
	d := &Dataset{Cadence: ThreeHourly}
	have := d.Timestamps(date(2015, 1, 1, 4), date(2015, 1, 2, 3))
	want := []time.Time{
		date(2015, 1, 1, 6), date(2015, 1, 1, 9), date(2015, 1, 1, 12), date(2015, 1, 1, 15),
		date(2015, 1, 1, 18), date(2015, 1, 1, 21), date(2015, 1, 2, 0), date(2015, 1, 2, 3),
	}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("have %v, want %v", have, want)
	}
	if n := len(d.Timestamps(date(2015, 1, 1, 0), date(2015, 1, 3, 21))); n != 24 {
		t.Errorf("three days gave %d timestamps, want 24", n)
	}
}

func TestParseCadence(t *testing.T) {
	for s, want := range map[string]Cadence{"daily": Daily, "": Daily, "3h": ThreeHourly, "3-Hourly": ThreeHourly} {
		c, err := ParseCadence(s)
		if err != nil || c != want {
			t.Errorf("ParseCadence(%q) = %v, %v", s, c, err)
		}
	}
	if _, err := ParseCadence("weekly"); err == nil {
		t.Error("expected an error for an invalid cadence")
	}
}

func imageName(t time.Time, version string) string {
	return "ESACCI-SOILMOISTURE-L3S-SSMV-COMBINED-" + t.Format(DefaultTimeFormat) + "-fv" + version + ".nc"
}

// writeSequence writes one image per timestamp whose sm value at every
// point is the day of the month.
func writeSequence(t *testing.T, root string, times ...time.Time) {
	for _, ts := range times {
		sm := make([]float32, 800)
		for i := range sm {
			sm[i] = float32(ts.Day())
		}
		path := filepath.Join(root, ts.Format("2006"), imageName(ts, "04.2"))
		err := imagetest.Write(path, imagetest.Raster{
			Rows: 20, Cols: 40, NorthFirst: true, Time: true,
			Variables: []imagetest.Variable{{Name: "sm", Values: sm}},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestDatasetIterate(t *testing.T) {
	root := t.TempDir()
	writeSequence(t, root, date(2015, 12, 31, 0), date(2016, 1, 1, 0), date(2016, 1, 3, 0))
	d := NewDataset(root, &ImageReader{Grid: testGrid(t)}, Daily)

	if _, ok, err := d.Resolve(date(2016, 1, 2, 0)); ok || err != nil {
		t.Errorf("Resolve of a gap: ok=%v, err=%v", ok, err)
	}
	path, ok, err := d.Resolve(date(2016, 1, 3, 0))
	if !ok || err != nil {
		t.Fatalf("Resolve: ok=%v, err=%v", ok, err)
	}
	if want := filepath.Join(root, "2016", imageName(date(2016, 1, 3, 0), "04.2")); path != want {
		t.Errorf("path: have %s, want %s", path, want)
	}

	next := d.Iterate(date(2015, 12, 30, 0), date(2016, 1, 3, 0))
	var days []int
	for {
		img, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		days = append(days, img.Timestamp.Day())
		if v, _ := img.Value("sm", 0); v != float64(img.Timestamp.Day()) {
			t.Errorf("%v: sm = %g", img.Timestamp, v)
		}
	}
	if !reflect.DeepEqual(days, []int{31, 1, 3}) {
		t.Errorf("days: %v", days)
	}
}

func TestDatasetAmbiguous(t *testing.T) {
	root := t.TempDir()
	ts := date(2016, 1, 5, 0)
	writeSequence(t, root, ts)
	err := imagetest.Write(filepath.Join(root, "2016", imageName(ts, "05.2")), imagetest.Raster{
		Rows: 20, Cols: 40, Variables: []imagetest.Variable{{Name: "sm", Values: make([]float32, 800)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDataset(root, &ImageReader{Grid: testGrid(t)}, Daily)
	if _, _, err := d.Read(ts); err == nil {
		t.Error("two files for one timestamp should be an error")
	}
	next := d.Iterate(ts, ts)
	if _, err := next(); err == nil || err == io.EOF {
		t.Errorf("Iterate: expected an error, got %v", err)
	}
}
