package xmlrpc

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	valueType   = reflect.TypeOf((*Value)(nil)).Elem()
	decimalType = reflect.TypeOf(decimal.Decimal{})
)

// FromNative converts a Go value into a Value.
//
// Supported inputs are nil, bool, every integer kind, finite floats,
// strings, decimal.Decimal, slices and arrays, maps with string keys (keys
// are sorted so the output is deterministic), structs (exported fields in
// declaration order, renamed or skipped with an `xmlrpc:"name,omitempty"`
// or `xmlrpc:"-"` tag), pointers and anything that already is a Value.
// Use Record rather than a map when member order matters.
//
// NaN, infinities, unsigned values above math.MaxInt64, cyclic structures
// and kinds with no wire form (channels, functions, complex numbers) are
// rejected with ErrUnsupportedValue.
func FromNative(x any) (Value, error) {
	c := &converter{seen: make(map[visit]struct{})}
	return c.convert(reflect.ValueOf(x), "")
}

// MustFromNative is like FromNative but panics on error. It is meant for
// literals in tests and call sites whose input is static.
func MustFromNative(x any) Value {
	v, err := FromNative(x)
	if err != nil {
		panic(err)
	}
	return v
}

// visit identifies a reference-typed node on the current conversion path.
type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type converter struct {
	seen map[visit]struct{}
}

func (c *converter) unsupported(path, format string, args ...any) error {
	if path == "" {
		path = "value"
	}
	return fmt.Errorf("%w: %s: %s", ErrUnsupportedValue, path, fmt.Sprintf(format, args...))
}

// enter marks rv as being converted and reports false when it is already
// on the path, i.e. the input is cyclic.
func (c *converter) enter(rv reflect.Value) (visit, bool) {
	key := visit{ptr: rv.Pointer(), typ: rv.Type()}
	if rv.Kind() == reflect.Slice {
		key.len = rv.Len()
	}
	if _, ok := c.seen[key]; ok {
		return key, false
	}
	c.seen[key] = struct{}{}
	return key, true
}

func (c *converter) convert(rv reflect.Value, path string) (Value, error) {
	if !rv.IsValid() {
		return Null{}, nil
	}
	if k := rv.Kind(); k != reflect.Interface && k != reflect.Pointer && rv.Type().Implements(valueType) {
		v := rv.Interface().(Value)
		if rv.Kind() == reflect.Slice && rv.Len() > 0 {
			key, ok := c.enter(rv)
			if !ok {
				return nil, c.unsupported(path, "cyclic structure")
			}
			defer delete(c.seen, key)
		}
		// containers are rebuilt so nested nil Values become Null
		switch x := v.(type) {
		case List:
			return c.list(reflect.ValueOf([]Value(x)), path)
		case Record:
			return c.record(x, path)
		}
		return v, nil
	}
	if rv.Type() == decimalType {
		return Double(rv.Interface().(decimal.Decimal)), nil
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return c.convert(rv.Elem(), path)
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}, nil
		}
		key, ok := c.enter(rv)
		if !ok {
			return nil, c.unsupported(path, "cyclic structure")
		}
		defer delete(c.seen, key)
		return c.convert(rv.Elem(), path)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, c.unsupported(path, "unsigned value %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, c.unsupported(path, "non-finite float %v", f)
		}
		return NewDouble(f), nil
	case reflect.String:
		return Str(rv.String()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return List{}, nil
		}
		if rv.Len() > 0 {
			key, ok := c.enter(rv)
			if !ok {
				return nil, c.unsupported(path, "cyclic structure")
			}
			defer delete(c.seen, key)
		}
		return c.list(rv, path)
	case reflect.Array:
		return c.list(rv, path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, c.unsupported(path, "map key type %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return Record{}, nil
		}
		key, ok := c.enter(rv)
		if !ok {
			return nil, c.unsupported(path, "cyclic structure")
		}
		defer delete(c.seen, key)
		return c.mapRecord(rv, path)
	case reflect.Struct:
		return c.structRecord(rv, path)
	}
	return nil, c.unsupported(path, "type %s has no wire representation", rv.Type())
}

func (c *converter) list(rv reflect.Value, path string) (Value, error) {
	out := make(List, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := c.convert(rv.Index(i), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *converter) record(r Record, path string) (Value, error) {
	out := make(Record, 0, len(r))
	for _, f := range r {
		v, err := c.convert(reflect.ValueOf(f.Value), path+"."+f.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, Field{Name: f.Name, Value: v})
	}
	return out, nil
}

func (c *converter) mapRecord(rv reflect.Value, path string) (Value, error) {
	keys := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keys = append(keys, iter.Key().String())
	}
	sort.Strings(keys)

	out := make(Record, 0, len(keys))
	for _, k := range keys {
		elem := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
		v, err := c.convert(elem, path+"."+k)
		if err != nil {
			return nil, err
		}
		out = append(out, Field{Name: k, Value: v})
	}
	return out, nil
}

func (c *converter) structRecord(rv reflect.Value, path string) (Value, error) {
	t := rv.Type()
	out := make(Record, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omitEmpty, skip := parseTag(sf)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		v, err := c.convert(fv, path+"."+name)
		if err != nil {
			return nil, err
		}
		out = append(out, Field{Name: name, Value: v})
	}
	return out, nil
}

func parseTag(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := sf.Tag.Get("xmlrpc")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = sf.Name
	}
	return name, opts == "omitempty", false
}
