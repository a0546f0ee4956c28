package debuggee

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrStaleHandle is returned for a frame or object handle whose pause
	// has already ended.
	ErrStaleHandle = errors.New("handle belongs to a pause that has ended")
	// ErrNotPaused is returned by operations that need a stopped engine.
	ErrNotPaused = errors.New("debuggee is not paused")
	// ErrNotFound is returned for scripts, frames or objects that no longer
	// exist in the engine.
	ErrNotFound = errors.New("not found")
	// ErrNotSupported is returned by engines lacking a capability.
	ErrNotSupported = errors.New("not supported by this engine")
	// ErrMissingProperty means a record lacks a property.
	ErrMissingProperty = errors.New("missing property")
)

// Record is an engine-side property bag.
type Record interface {
	Property(name string) (Value, bool)
}

// Fields is a map backed Record.
type Fields map[string]Value

func (f Fields) Property(name string) (Value, bool) {
	v, ok := f[name]
	return v, ok
}

// PropertyError reports a property that is absent or has the wrong kind.
type PropertyError struct {
	Name string
	Want Kind
	Got  *Kind
}

func (e *PropertyError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("failed to get %q: %v", e.Name, ErrMissingProperty)
	}
	return fmt.Sprintf("failed to get %q: want %s, got %s", e.Name, e.Want, *e.Got)
}

func (e *PropertyError) Unwrap() error {
	if e.Got == nil {
		return ErrMissingProperty
	}
	return nil
}

func Has(r Record, name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Property(name)
	return ok
}

// Get returns the named property or a *PropertyError.
func Get(r Record, name string) (Value, error) {
	if r == nil {
		return Value{}, &PropertyError{Name: name}
	}
	v, ok := r.Property(name)
	if !ok {
		return Value{}, &PropertyError{Name: name}
	}
	return v, nil
}

// GetInt reads an integral number property.
func GetInt(r Record, name string) (int, error) {
	v, err := Get(r, name)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindNumber || v.Number != math.Trunc(v.Number) {
		return 0, &PropertyError{Name: name, Want: KindNumber, Got: &v.Kind}
	}
	return int(v.Number), nil
}

// GetString reads a string property without conversion.
func GetString(r Record, name string) (string, error) {
	v, err := Get(r, name)
	if err != nil {
		return "", err
	}
	if v.Kind != KindString {
		return "", &PropertyError{Name: name, Want: KindString, Got: &v.Kind}
	}
	return v.Str, nil
}

// GetAsString reads any primitive property converted to its string form.
func GetAsString(r Record, name string) (string, error) {
	v, err := Get(r, name)
	if err != nil {
		return "", err
	}
	if v.Kind.IsReference() {
		return "", &PropertyError{Name: name, Want: KindString, Got: &v.Kind}
	}
	return v.Describe(), nil
}
