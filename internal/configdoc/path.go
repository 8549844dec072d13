// Package configdoc edits agent configuration documents addressed by dotted
// paths such as "ai_settings.temperature" or "questions.2.text".
//
// Documents are the plain trees produced by encoding/json: map[string]any
// objects, []any arrays and scalar leaves.
package configdoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPath is returned when no path was supplied.
	ErrEmptyPath = errors.New("configdoc: path required")
	// ErrPathNotFound is returned when a segment does not resolve to a node
	// that can be descended into or assigned on.
	ErrPathNotFound = errors.New("configdoc: path not found")
	// ErrInvalidIndex is returned when an array segment is not an in-range index.
	ErrInvalidIndex = errors.New("configdoc: invalid array index")
)

// PathError reports the segment at which a path walk failed.
type PathError struct {
	Path    string
	Segment string
	Err     error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%v: %q in %q", e.Err, e.Segment, e.Path)
}

func (e *PathError) Unwrap() error { return e.Err }

// SetValueAtPath writes value at path inside root and returns a shallow clone
// of root.
//
// Walking rule: for every segment except the last, when the child addressed
// by the segment is an array, the following segment is consumed as the index
// into that array before descent continues. "a.1.b" therefore reaches
// root["a"][1]["b"]. When the consumed index is itself the last segment, it
// is used a second time as the key to assign: "a.1" writes key "1" on
// root["a"][1] rather than replacing the array element.
//
// Only the root is cloned. Intermediate nodes are mutated in place and remain
// shared with the caller's tree, so callers comparing nested nodes by
// identity will not observe the change. No intermediate node is created: a
// missing segment fails with ErrPathNotFound.
func SetValueAtPath(root any, path string, value any) (any, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	keys := strings.Split(path, ".")

	parent, err := walk(root, path, keys)
	if err != nil {
		return nil, err
	}
	last := keys[len(keys)-1]
	if err := assign(parent, last, value); err != nil {
		return nil, &PathError{Path: path, Segment: last, Err: err}
	}
	return shallowClone(root), nil
}

// GetValueAtPath reads the value at path using the same walking rule as
// SetValueAtPath.
func GetValueAtPath(root any, path string) (any, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	keys := strings.Split(path, ".")
	parent, err := walk(root, path, keys)
	if err != nil {
		return nil, err
	}
	last := keys[len(keys)-1]
	v, err := child(parent, last)
	if err != nil {
		return nil, &PathError{Path: path, Segment: last, Err: err}
	}
	return v, nil
}

// Decode reads a JSON document, keeping numbers as json.Number so untouched
// leaves are written back unchanged.
func Decode(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("configdoc: decode: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// walk descends through every segment but the last and returns the node the
// last segment applies to.
func walk(root any, path string, keys []string) (any, error) {
	current := root
	for i := 0; i < len(keys)-1; i++ {
		next, err := child(current, keys[i])
		if err != nil {
			return nil, &PathError{Path: path, Segment: keys[i], Err: err}
		}
		arr, ok := next.([]any)
		if !ok {
			current = next
			continue
		}
		i++
		elem, err := element(arr, keys[i])
		if err != nil {
			return nil, &PathError{Path: path, Segment: keys[i], Err: err}
		}
		current = elem
	}
	return current, nil
}

func child(node any, key string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		if !ok || v == nil {
			return nil, ErrPathNotFound
		}
		return v, nil
	case []any:
		return element(n, key)
	default:
		return nil, ErrPathNotFound
	}
}

func element(arr []any, seg string) (any, error) {
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 || idx >= len(arr) {
		return nil, ErrInvalidIndex
	}
	if arr[idx] == nil {
		return nil, ErrPathNotFound
	}
	return arr[idx], nil
}

func assign(node any, key string, value any) error {
	switch n := node.(type) {
	case map[string]any:
		n[key] = value
		return nil
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(n) {
			return ErrInvalidIndex
		}
		n[idx] = value
		return nil
	default:
		return ErrPathNotFound
	}
}

func shallowClone(root any) any {
	switch r := root.(type) {
	case map[string]any:
		out := make(map[string]any, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	case []any:
		out := make([]any, len(r))
		copy(out, r)
		return out
	default:
		return root
	}
}
