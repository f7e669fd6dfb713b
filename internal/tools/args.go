// ABOUTME: Typed access to tool-call arguments decoded from JSON
// ABOUTME: Missing or mistyped arguments become VALIDATION_ERROR results

package tools

import (
	"math"
	"strings"

	"github.com/2389/coven-context/internal/store"
)

type arguments map[string]any

// maxInteger bounds numeric arguments so conversions cannot overflow.
const maxInteger = math.MaxInt32

func invalid(format string, args ...any) error {
	return store.NewError(store.CodeValidation, format, args...)
}

func (a arguments) str(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid("argument %q must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

func (a arguments) requireStr(key string) (string, error) {
	s, err := a.str(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", invalid("argument %q is required", key)
	}
	return s, nil
}

func (a arguments) boolean(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalid("argument %q must be a boolean", key)
	}
	return b, nil
}

// integer accepts JSON numbers, which decode as float64.
func (a arguments) integer(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < 0 {
			return 0, invalid("argument %q must be a non-negative integer", key)
		}
		if n > maxInteger {
			return 0, invalid("argument %q must be at most %d", key, maxInteger)
		}
		return int(n), nil
	case int:
		if n < 0 {
			return 0, invalid("argument %q must be a non-negative integer", key)
		}
		if n > maxInteger {
			return 0, invalid("argument %q must be at most %d", key, maxInteger)
		}
		return n, nil
	default:
		return 0, invalid("argument %q must be a number", key)
	}
}

func (a arguments) strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, invalid("argument %q must be an array of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, invalid("argument %q must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
