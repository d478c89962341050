// Package rawtree wraps decoded, untyped JSON in a tagged union so callers
// can walk loosely structured page data without type switches at every step.
package rawtree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

type Kind int

const (
	Absent Kind = iota
	Mapping
	Sequence
	Scalar
)

func (k Kind) String() string {
	switch k {
	case Mapping:
		return "mapping"
	case Sequence:
		return "sequence"
	case Scalar:
		return "scalar"
	default:
		return "absent"
	}
}

// Node is one value in a decoded JSON tree. The zero Node is Absent.
type Node struct {
	kind Kind
	raw  any
}

// From wraps a value produced by encoding/json (objects, arrays, strings,
// json.Number, float64, bool). A JSON null is Absent.
func From(v any) Node {
	switch v.(type) {
	case nil:
		return Node{}
	case map[string]any:
		return Node{kind: Mapping, raw: v}
	case []any:
		return Node{kind: Sequence, raw: v}
	default:
		return Node{kind: Scalar, raw: v}
	}
}

// Decode parses JSON text, keeping numbers as json.Number.
func Decode(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Node{}, err
	}
	if dec.More() {
		return Node{}, fmt.Errorf("unexpected data after top-level value")
	}
	return From(v), nil
}

func (n Node) Kind() Kind      { return n.kind }
func (n Node) Raw() any        { return n.raw }
func (n Node) IsAbsent() bool  { return n.kind == Absent }
func (n Node) IsMapping() bool { return n.kind == Mapping }

// Get returns the member key of a mapping, or Absent.
func (n Node) Get(key string) Node {
	m, ok := n.raw.(map[string]any)
	if !ok {
		return Node{}
	}
	return From(m[key])
}

// Path follows keys through nested mappings.
func (n Node) Path(keys ...string) Node {
	cur := n
	for _, k := range keys {
		cur = cur.Get(k)
		if cur.IsAbsent() {
			return cur
		}
	}
	return cur
}

// Items returns the elements of a sequence, nil for anything else.
func (n Node) Items() []Node {
	s, ok := n.raw.([]any)
	if !ok {
		return nil
	}
	items := make([]Node, len(s))
	for i, v := range s {
		items[i] = From(v)
	}
	return items
}

// Keys returns the sorted keys of a mapping.
func (n Node) Keys() []string {
	m, ok := n.raw.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Text renders a scalar as a string. Numbers keep their literal form, so an
// identifier decoded as 123 yields "123".
func (n Node) Text() (string, bool) {
	if n.kind != Scalar {
		return "", false
	}
	switch v := n.raw.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprint(v), true
	}
}

// String is Text with the empty string for non-scalars.
func (n Node) String() string {
	s, _ := n.Text()
	return s
}

// Number returns a numeric scalar, accepting numeric strings.
func (n Node) Number() (float64, bool) {
	if n.kind != Scalar {
		return 0, false
	}
	switch v := n.raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Property reads one entry of a "properties" collection, which the source
// serves either as a mapping or as a sequence of {"key": ..., "value": ...}
// objects.
func (n Node) Property(key string) Node {
	switch n.kind {
	case Mapping:
		return n.Get(key)
	case Sequence:
		for _, item := range n.Items() {
			if !item.IsMapping() {
				continue
			}
			if k, ok := item.Get("key").Text(); ok && k == key {
				return item.Get("value")
			}
		}
	}
	return Node{}
}

// Search evaluates a JMESPath expression against the tree. Invalid
// expressions and empty results are Absent.
func (n Node) Search(expr string) Node {
	if n.kind == Absent {
		return Node{}
	}
	result, err := jmespath.Search(expr, n.raw)
	if err != nil {
		return Node{}
	}
	return From(result)
}
