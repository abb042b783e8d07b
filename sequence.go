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
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTemplate matches the ESA CCI SM L3S image files. {datetime}
	// is replaced by the timestamp formatted with DefaultTimeFormat.
	DefaultTemplate = "ESACCI-SOILMOISTURE-L3S-*-{datetime}-fv*.nc"

	// DefaultTimeFormat is the layout of the timestamp in image file names.
	DefaultTimeFormat = "20060102150405"

	// DefaultSubPath is the layout of the per-year subdirectories.
	DefaultSubPath = "2006"
)

// Cadence is the observation schedule of a product.
type Cadence int

const (
	// Daily products have one image per calendar day.
	Daily Cadence = iota
	// ThreeHourly products have eight images per day, at 00, 03, ..., 21 h.
	ThreeHourly
)

func (c Cadence) String() string {
	switch c {
	case Daily:
		return "daily"
	case ThreeHourly:
		return "3h"
	default:
		return fmt.Sprintf("Cadence(%d)", int(c))
	}
}

// ParseCadence parses "daily" or "3h".
func ParseCadence(s string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "1d", "":
		return Daily, nil
	case "3h", "3-hourly", "threehourly":
		return ThreeHourly, nil
	}
	return Daily, fmt.Errorf("ccism: invalid cadence %q; valid options are 'daily' and '3h'", s)
}

// Dataset is a collection of image files stored as
// {Root}/{SubPath}/{Template} with one file per timestamp.
type Dataset struct {
	Root       string
	Template   string
	SubPath    string
	TimeFormat string
	Cadence    Cadence

	Reader *ImageReader

	// Log receives messages about absent timestamps.
	Log logrus.FieldLogger
}

// NewDataset returns a Dataset with the default ESA CCI SM file layout.
func NewDataset(root string, r *ImageReader, c Cadence) *Dataset {
	return &Dataset{
		Root:       root,
		Template:   DefaultTemplate,
		SubPath:    DefaultSubPath,
		TimeFormat: DefaultTimeFormat,
		Cadence:    c,
		Reader:     r,
		Log:        r.Log,
	}
}

// Timestamps returns the observation times in [start, end], inclusive of
// both ends, in chronological order.
func (d *Dataset) Timestamps(start, end time.Time) []time.Time {
	var o []time.Time
	switch d.Cadence {
	case ThreeHourly:
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		for ; !day.After(end); day = day.AddDate(0, 0, 1) {
			for h := 0; h < 24; h += 3 {
				t := day.Add(time.Duration(h) * time.Hour)
				if t.Before(start) || t.After(end) {
					continue
				}
				o = append(o, t)
			}
		}
	default:
		for t := start; !t.After(end); t = t.AddDate(0, 0, 1) {
			o = append(o, t)
		}
	}
	return o
}

// Resolve returns the path of the file for timestamp t. ok is false if
// there is no such file. More than one matching file is an error.
func (d *Dataset) Resolve(t time.Time) (path string, ok bool, err error) {
	name := strings.Replace(d.Template, "{datetime}", t.Format(d.TimeFormat), -1)
	dir := d.Root
	if d.SubPath != "" {
		dir = filepath.Join(dir, t.Format(d.SubPath))
	}
	matches, err := filepath.Glob(filepath.Join(dir, name))
	if err != nil {
		return "", false, fmt.Errorf("ccism: invalid file template %q: %v", d.Template, err)
	}
	switch len(matches) {
	case 0:
		return "", false, nil
	case 1:
		return matches[0], true, nil
	}
	return "", false, fmt.Errorf("ccism: %d files match timestamp %s: %v", len(matches), t.Format(time.RFC3339), matches)
}

// Read reads the image for timestamp t. ok is false if there is no file
// for t.
func (d *Dataset) Read(t time.Time) (img *Image, ok bool, err error) {
	path, ok, err := d.Resolve(t)
	if err != nil || !ok {
		return nil, ok, err
	}
	img, err = d.Reader.Read(path, t)
	if err != nil {
		return nil, true, err
	}
	return img, true, nil
}

// Iterate returns a function that returns the images in [start, end] in
// chronological order each time it is called, skipping timestamps that
// have no file. After the last image it returns io.EOF.
func (d *Dataset) Iterate(start, end time.Time) func() (*Image, error) {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	times := d.Timestamps(start, end)
	i := 0
	return func() (*Image, error) {
		for i < len(times) {
			t := times[i]
			i++
			img, ok, err := d.Read(t)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.WithField("timestamp", t.Format(time.RFC3339)).Debug("no image file")
				continue
			}
			return img, nil
		}
		return nil, io.EOF
	}
}
