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
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed metadata/*.toml
var metadataFiles embed.FS

// Metadata holds the global and per-variable attributes attached to
// time series files.
type Metadata struct {
	Global    map[string]interface{}
	Variables map[string]map[string]interface{}
}

// DefaultMetadata is used when product metadata is not requested.
func DefaultMetadata() *Metadata {
	return &Metadata{
		Global:    map[string]interface{}{"product": "ESA CCI SM"},
		Variables: make(map[string]map[string]interface{}),
	}
}

type metadataFile struct {
	Global    map[string]interface{}            `toml:"global"`
	Variables map[string]map[string]interface{} `toml:"variables"`
	Sensor    map[string]struct {
		Names     map[string]string                 `toml:"names"`
		Variables map[string]map[string]interface{} `toml:"variables"`
	} `toml:"sensor"`
}

// LoadMetadata returns the metadata for the given product version and
// sensor type (ACTIVE, PASSIVE or COMBINED), restricted to variables.
// Variables without an entry in the metadata resource get no attributes.
// Placeholders in string values such as {sensor_type}, {version} or
// {sm_units} are replaced by their sensor-specific values.
func LoadMetadata(version, subVersion int, sensorType string, variables []string) (*Metadata, error) {
	path := fmt.Sprintf("metadata/esa_cci_sm_v%02d.toml", version)
	var f metadataFile
	if _, err := toml.DecodeFS(metadataFiles, path, &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ccism: no metadata available for product version %d (available: %v)",
				version, MetadataVersions())
		}
		return nil, fmt.Errorf("ccism: reading metadata for version %d: %v", version, err)
	}
	sensor := strings.ToUpper(sensorType)
	s, ok := f.Sensor[sensor]
	if !ok {
		return nil, fmt.Errorf("ccism: no metadata available for sensor type %s in product version %d", sensorType, version)
	}

	pairs := []string{
		"{sensor_type}", sensor,
		"{version}", fmt.Sprintf("%02d", version),
		"{subversion}", strconv.Itoa(subVersion),
	}
	for k, v := range s.Names {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	m := &Metadata{
		Global:    substitute(f.Global, r),
		Variables: make(map[string]map[string]interface{}),
	}
	for _, v := range variables {
		base, override := f.Variables[v], s.Variables[v]
		if base == nil && override == nil {
			continue
		}
		attrs := make(map[string]interface{}, len(base)+len(override))
		for k, val := range base {
			attrs[k] = val
		}
		for k, val := range override {
			attrs[k] = val
		}
		m.Variables[v] = substitute(attrs, r)
	}
	return m, nil
}

func substitute(attrs map[string]interface{}, r *strings.Replacer) map[string]interface{} {
	o := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if s, ok := v.(string); ok {
			v = r.Replace(s)
		}
		o[k] = v
	}
	return o
}

// MetadataVersions returns the product versions that metadata is
// available for.
func MetadataVersions() []int {
	names, _ := fs.Glob(metadataFiles, "metadata/esa_cci_sm_v*.toml")
	var o []int
	for _, n := range names {
		n = strings.TrimSuffix(strings.TrimPrefix(n, "metadata/esa_cci_sm_v"), ".toml")
		if v, err := strconv.Atoi(n); err == nil {
			o = append(o, v)
		}
	}
	sort.Ints(o)
	return o
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]interface{}) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
