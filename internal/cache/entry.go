package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Entry is an immutable cached value with its creation time and absolute expiry.
// A zero ExpiresAt means the entry never expires.
type Entry struct {
	value     any
	encoded   []byte
	createdAt time.Time
	expiresAt time.Time
}

// NewEntry wraps value for storage in one level. A ttl <= 0 never expires.
func NewEntry(value any, now time.Time, ttl time.Duration) *Entry {
	e := &Entry{value: value, createdAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return e
}

// newEncodedEntry builds an entry whose value is still serialized, as read from the Shared level.
func newEncodedEntry(data []byte, createdAt, expiresAt time.Time) *Entry {
	return &Entry{encoded: data, createdAt: createdAt, expiresAt: expiresAt}
}

// Value returns the in-process value, or nil for an entry that is still encoded.
func (e *Entry) Value() any { return e.value }

// CreatedAt returns when the entry was written.
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// ExpiresAt returns the absolute expiry; zero means never.
func (e *Entry) ExpiresAt() time.Time { return e.expiresAt }

// TTL returns the lifetime the entry was written with, zero if it never expires.
func (e *Entry) TTL() time.Duration {
	if e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(e.createdAt)
}

// Expired reports whether now is at or past the entry's expiry.
func (e *Entry) Expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// marshal returns the JSON form of the value, reusing the encoded bytes when present.
func (e *Entry) marshal() ([]byte, error) {
	if e.encoded != nil {
		return e.encoded, nil
	}
	return json.Marshal(e.value)
}

func decodeEntry[T any](e *Entry) (T, error) {
	var out T
	if e.encoded != nil {
		if err := json.Unmarshal(e.encoded, &out); err != nil {
			return out, fmt.Errorf("decode %s: %w", TypeName[T](), err)
		}
		return out, nil
	}
	if v, ok := e.value.(T); ok {
		return v, nil
	}
	if v, ok := convertPointer[T](e.value); ok {
		return v, nil
	}
	return out, fmt.Errorf("cached value is %T, want %s", e.value, TypeName[T]())
}

// convertPointer bridges T and *T, which share a type name and therefore a key.
// A value is copied into a fresh pointer so callers never alias the cached value.
func convertPointer[T any](value any) (T, bool) {
	var out T
	if value == nil {
		return out, false
	}
	want := reflect.TypeOf((*T)(nil)).Elem()
	rv := reflect.ValueOf(value)

	switch {
	case want.Kind() == reflect.Pointer && rv.Type() == want.Elem():
		p := reflect.New(want.Elem())
		p.Elem().Set(rv)
		return p.Interface().(T), true
	case rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Type().Elem() == want:
		out, ok := rv.Elem().Interface().(T)
		return out, ok
	}
	return out, false
}
