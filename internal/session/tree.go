package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// lookup walks doc along segments.
func lookup(doc map[string]any, segments []string) (any, bool) {
	var current any = doc
	for _, s := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[s]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// assign writes value at segments, replacing any non-object intermediate.
func assign(doc map[string]any, segments []string, value any) {
	node := doc
	for _, s := range segments[:len(segments)-1] {
		next, ok := node[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[s] = next
		}
		node = next
	}
	node[segments[len(segments)-1]] = value
}

// remove deletes the leaf at segments and reports whether it existed.
func remove(doc map[string]any, segments []string) bool {
	parent, ok := lookup(doc, segments[:len(segments)-1])
	if !ok {
		return false
	}
	node, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	leaf := segments[len(segments)-1]
	if _, ok := node[leaf]; !ok {
		return false
	}
	delete(node, leaf)
	return true
}

// normalize converts value into the JSON data model a serialized session holds.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal session value failed: %w", err)
	}
	out, err := decodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal session value failed: %w", err)
	}
	return out, nil
}

// decodeJSON decodes data keeping integers as int64 so that large prices
// and quantities are not rounded through float64.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return fromNumbers(out), nil
}

func fromNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, child := range v {
			v[k] = fromNumbers(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = fromNumbers(child)
		}
		return v
	default:
		return v
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
