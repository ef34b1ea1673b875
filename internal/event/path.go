package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("event: path not found")
	ErrNotWritable  = errors.New("event: path not writable")
	ErrNotContainer = errors.New("event: path crosses a non-map value")
)

// splitPath accepts "data.a.b" as well as "@data.a.b". The empty path selects
// the whole event.
func splitPath(path string) []string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "@")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get returns the value at path.
func (e *Event) Get(path string) (any, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return e.Map(), nil
	}

	var root any
	switch parts[0] {
	case "data":
		root = e.Data
	case "tmp":
		root = e.Tmp
	case "errors":
		root = e.errorsMap()
	case "id":
		root = e.ID
	case "timestamp":
		root = e.Map()["timestamp"]
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}

	v := root
	for _, p := range parts[1:] {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		}
		if v, ok = m[p]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		}
	}
	return v, nil
}

// Set stores value at path. Only the data and tmp namespaces are writable;
// intermediate maps are created as needed.
func (e *Event) Set(path string, value any) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return fmt.Errorf("%w: empty path", ErrNotWritable)
	}

	switch parts[0] {
	case "data":
		if len(parts) == 1 {
			e.Data = value
			return nil
		}
		if e.Data == nil {
			e.Data = map[string]any{}
		}
		m, ok := e.Data.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotContainer, path)
		}
		return setIn(m, parts[1:], value, path)
	case "tmp":
		if len(parts) == 1 {
			m, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %q", ErrNotContainer, path)
			}
			e.Tmp = m
			return nil
		}
		if e.Tmp == nil {
			e.Tmp = map[string]any{}
		}
		return setIn(e.Tmp, parts[1:], value, path)
	default:
		return fmt.Errorf("%w: %q", ErrNotWritable, path)
	}
}

// Delete removes the value at path. Missing keys are not an error.
func (e *Event) Delete(path string) {
	parts := splitPath(path)
	if len(parts) < 2 {
		return
	}
	var m map[string]any
	switch parts[0] {
	case "data":
		m, _ = e.Data.(map[string]any)
	case "tmp":
		m = e.Tmp
	}
	for _, p := range parts[1 : len(parts)-1] {
		if m == nil {
			return
		}
		m, _ = m[p].(map[string]any)
	}
	if m != nil {
		delete(m, parts[len(parts)-1])
	}
}

func setIn(m map[string]any, parts []string, value any, path string) error {
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p]
		if !ok || next == nil {
			child := map[string]any{}
			m[p] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotContainer, path)
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
	return nil
}

// Stringify renders a selected value as request body text. Strings and byte
// slices pass through untouched; anything else is JSON encoded.
func Stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(b), nil
}

// FieldAsString stringifies the value at path.
func (e *Event) FieldAsString(path string) (string, error) {
	v, err := e.Get(path)
	if err != nil {
		return "", err
	}
	return Stringify(v)
}

// DumpFieldAsString stringifies path for every item of a bulk event and joins
// the results with the event's delimiter. For a regular event it is the same
// as FieldAsString.
func (e *Event) DumpFieldAsString(path string) (string, error) {
	if !e.IsBulk() {
		return e.FieldAsString(path)
	}
	delim := e.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	parts := make([]string, 0, len(e.Items))
	for i, it := range e.Items {
		s, err := it.FieldAsString(path)
		if err != nil {
			return "", fmt.Errorf("bulk item %d: %w", i, err)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, delim), nil
}
