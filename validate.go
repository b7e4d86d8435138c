package cachemgr

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// encode checks value and returns its JSON form.
func (c *core) encode(op, key string, value any) (json.RawMessage, error) {
	if isNil(value) {
		return nil, &ValidationError{Op: op, Key: key, Reason: "value must not be nil"}
	}
	if hasCycle(reflect.ValueOf(value)) {
		return nil, &ValidationError{Op: op, Key: key, Reason: "value contains a reference cycle"}
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, &ValidationError{Op: op, Key: key, Reason: "value is not JSON-encodable", Err: err}
	}
	if c.maxValueSize > 0 && len(b) > c.maxValueSize {
		return nil, &ValidationError{
			Op:     op,
			Key:    key,
			Reason: fmt.Sprintf("encoded value is %d bytes, limit %d", len(b), c.maxValueSize),
		}
	}
	return b, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// validateMetadata accepts only scalar values.
func validateMetadata(op string, md map[string]any) error {
	for k, v := range md {
		if v == nil {
			continue
		}
		switch reflect.TypeOf(v).Kind() {
		case reflect.Bool, reflect.String,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
		default:
			return &ValidationError{Op: op, Key: k, Reason: fmt.Sprintf("metadata value of type %T is not a scalar", v)}
		}
	}
	return nil
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

// hasCycle walks the exported value graph and reports a reference back to
// a container still being visited.
func hasCycle(v reflect.Value) bool {
	return walk(v, make(map[visit]struct{}))
}

func walk(v reflect.Value, path map[visit]struct{}) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return false
		}
		id := visit{ptr: v.Pointer(), typ: v.Type()}
		if v.Kind() == reflect.Slice {
			id.n = v.Len()
		}
		if _, ok := path[id]; ok {
			return true
		}
		path[id] = struct{}{}
		defer delete(path, id)
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return false
		}
		return walk(v.Elem(), path)
	case reflect.Map:
		it := v.MapRange()
		for it.Next() {
			if walk(it.Value(), path) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if walk(v.Index(i), path) {
				return true
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if walk(v.Field(i), path) {
				return true
			}
		}
	}
	return false
}
