package cache

import (
	"reflect"
	"strings"

	"cache-coordinator/internal/common/errors"
)

// TypeName returns the lower-cased simple name of T with pointers dereferenced.
// Unnamed types fall back to their type literal, e.g. "map[string]int".
func TypeName[T any]() string {
	return typeNameOf(reflect.TypeOf((*T)(nil)).Elem())
}

func typeNameOf(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	return strings.ToLower(name)
}

// BuildKey returns "<namespace>:<typeName>:<key>". It is pure and total for any
// non-blank key; a blank key is a validation error.
func BuildKey(namespace, typeName, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.ValidationError("cache key must not be empty")
	}
	if typeName == "" {
		return "", errors.ValidationError("cache type name must not be empty")
	}
	return namespace + ":" + strings.ToLower(typeName) + ":" + key, nil
}

// isEmpty reports values that must never be cached: nil interfaces and nil
// pointers, maps, slices, channels and funcs.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
