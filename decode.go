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
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// flatten converts the (possibly nested) slice returned by the NetCDF
// reader into a flat []float64 in storage order. It also returns the Go
// name of the element type.
func flatten(values interface{}) ([]float64, string, error) {
	var out []float64
	var kind string
	var walk func(v reflect.Value) error
	walk = func(v reflect.Value) error {
		switch v.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < v.Len(); i++ {
				if err := walk(v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		case reflect.Interface:
			return walk(v.Elem())
		}
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("unsupported value type %s", v.Type())
		}
		kind = v.Type().Name()
		out = append(out, f)
		return nil
	}
	if err := walk(reflect.ValueOf(values)); err != nil {
		return nil, "", err
	}
	return out, kind, nil
}

func toFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	}
	return 0, false
}

// attributes copies a NetCDF attribute map into a plain map.
func attributes(am api.AttributeMap) map[string]interface{} {
	o := make(map[string]interface{})
	if am == nil {
		return o
	}
	for _, k := range am.Keys() {
		if v, ok := am.Get(k); ok {
			o[k] = v
		}
	}
	return o
}

// attrFloats returns the numeric values of attribute name, if present.
func attrFloats(attrs map[string]interface{}, name string) []float64 {
	v, ok := attrs[name]
	if !ok {
		return nil
	}
	if _, isString := v.(string); isString {
		return nil
	}
	f, _, err := flatten(v)
	if err != nil {
		return nil
	}
	return f
}

// decoder converts raw stored values into physical values following the
// CF conventions, using NaN for every missing value.
type decoder struct {
	fill       []float64
	validMin   float64
	validMax   float64
	scale      float64
	offset     float64
	needsScale bool
}

func newDecoder(attrs map[string]interface{}) decoder {
	d := decoder{
		validMin: math.Inf(-1),
		validMax: math.Inf(1),
		scale:    1,
	}
	d.fill = append(d.fill, attrFloats(attrs, "_FillValue")...)
	d.fill = append(d.fill, attrFloats(attrs, "missing_value")...)
	if r := attrFloats(attrs, "valid_range"); len(r) == 2 {
		d.validMin, d.validMax = r[0], r[1]
	}
	if r := attrFloats(attrs, "valid_min"); len(r) == 1 {
		d.validMin = r[0]
	}
	if r := attrFloats(attrs, "valid_max"); len(r) == 1 {
		d.validMax = r[0]
	}
	if s := attrFloats(attrs, "scale_factor"); len(s) == 1 {
		d.scale = s[0]
		d.needsScale = true
	}
	if o := attrFloats(attrs, "add_offset"); len(o) == 1 {
		d.offset = o[0]
		d.needsScale = true
	}
	return d
}

// decode converts the raw value v.
func (d decoder) decode(v float64) float64 {
	if math.IsNaN(v) || v < d.validMin || v > d.validMax {
		return math.NaN()
	}
	for _, f := range d.fill {
		if v == f {
			return math.NaN()
		}
	}
	if d.needsScale {
		return v*d.scale + d.offset
	}
	return v
}
