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
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// productName matches
// {product}-SOILMOISTURE-L3S-{data_type}-{sensor_type}-{YYYYMMDDHHMMSS}-fv{version}.{subversion}.nc
var productName = regexp.MustCompile(
	`^([^-]+)-SOILMOISTURE-L3S-([^-]+)-([^-]+)-(\d{14})-fv(\d+)\.(\d+)\.nc$`)

// Product describes an image file as encoded in its name.
type Product struct {
	Product    string // e.g. ESACCI
	DataType   string // e.g. SSMV
	SensorType string // ACTIVE, PASSIVE or COMBINED
	Time       time.Time
	Version    int
	SubVersion int

	// Path is the location of the file.
	Path string
}

// ParseFilename parses an image file name. The directory part of name
// is ignored.
func ParseFilename(name string) (*Product, error) {
	m := productName.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return nil, fmt.Errorf("ccism: file name %s does not match the product naming template", name)
	}
	t, err := time.Parse(DefaultTimeFormat, m[4])
	if err != nil {
		return nil, fmt.Errorf("ccism: file name %s: %v", name, err)
	}
	v, err := strconv.Atoi(m[5])
	if err != nil {
		return nil, fmt.Errorf("ccism: file name %s: version: %v", name, err)
	}
	sv, err := strconv.Atoi(m[6])
	if err != nil {
		return nil, fmt.Errorf("ccism: file name %s: subversion: %v", name, err)
	}
	return &Product{
		Product:    m[1],
		DataType:   m[2],
		SensorType: m[3],
		Time:       t,
		Version:    v,
		SubVersion: sv,
		Path:       name,
	}, nil
}

var errFound = errors.New("found")

// FindFirstProduct walks root in lexical order and returns the first
// file whose name matches the product naming template.
func FindFirstProduct(root string) (*Product, error) {
	var p *Product
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if pp, err := ParseFilename(path); err == nil {
			p = pp
			return errFound
		}
		return nil
	})
	if err != nil && err != errFound {
		return nil, fmt.Errorf("ccism: searching %s for image files: %v", root, err)
	}
	if p == nil {
		return nil, fmt.Errorf("ccism: no file in %s matches the product naming template", root)
	}
	return p, nil
}
