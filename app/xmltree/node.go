package xmltree

import (
	"encoding/json"
	"slices"
	"sort"
)

type Kind int

const (
	KindMap Kind = iota
	KindScalar
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	default:
		return "map"
	}
}

// Node is one value of a parsed document: a scalar string, an ordered list
// of nodes, or a map of named nodes. The zero Node is an empty map.
// Nodes are never modified after the parser returns them.
type Node struct {
	kind   Kind
	scalar string
	list   []Node
	fields map[string]Node
}

func Scalar(s string) Node {
	return Node{kind: KindScalar, scalar: s}
}

func List(items ...Node) Node {
	return Node{kind: KindList, list: slices.Clone(items)}
}

func Map(fields map[string]Node) Node {
	copied := make(map[string]Node, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Node{kind: KindMap, fields: copied}
}

func (n Node) Kind() Kind {
	return n.kind
}

// Scalar returns the string value and whether the node is a scalar.
func (n Node) Scalar() (string, bool) {
	if n.kind != KindScalar {
		return "", false
	}
	return n.scalar, true
}

// List returns a copy of the list items and whether the node is a list.
func (n Node) List() ([]Node, bool) {
	if n.kind != KindList {
		return nil, false
	}
	return slices.Clone(n.list), true
}

// Get looks up a key of a map node. It reports false for missing keys and
// for nodes that are not maps.
func (n Node) Get(key string) (Node, bool) {
	if n.kind != KindMap {
		return Node{}, false
	}
	child, ok := n.fields[key]
	return child, ok
}

// Path descends through nested map keys.
func (n Node) Path(keys ...string) (Node, bool) {
	current := n
	for _, key := range keys {
		next, ok := current.Get(key)
		if !ok {
			return Node{}, false
		}
		current = next
	}
	return current, true
}

// Keys returns the sorted keys of a map node.
func (n Node) Keys() []string {
	if n.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(n.fields))
	for k := range n.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of list items or map keys; scalars have length 0.
func (n Node) Len() int {
	switch n.kind {
	case KindList:
		return len(n.list)
	case KindMap:
		return len(n.fields)
	default:
		return 0
	}
}

// IsEmpty reports whether the node is an empty map, an empty list or an
// empty string.
func (n Node) IsEmpty() bool {
	switch n.kind {
	case KindScalar:
		return n.scalar == ""
	default:
		return n.Len() == 0
	}
}

// Without returns a copy of a map node with key removed. Non-map nodes are
// returned unchanged.
func (n Node) Without(key string) Node {
	if n.kind != KindMap {
		return n
	}
	fields := make(map[string]Node, len(n.fields))
	for k, v := range n.fields {
		if k != key {
			fields[k] = v
		}
	}
	return Node{kind: KindMap, fields: fields}
}

// Items treats the node as a sequence: list items for a list, the node
// itself otherwise.
func (n Node) Items() []Node {
	if n.kind == KindList {
		return slices.Clone(n.list)
	}
	return []Node{n}
}

// Match dispatches on the node kind. All three handlers are required.
func Match[T any](n Node, onScalar func(string) T, onList func([]Node) T, onMap func(Node) T) T {
	switch n.kind {
	case KindScalar:
		return onScalar(n.scalar)
	case KindList:
		return onList(slices.Clone(n.list))
	default:
		return onMap(n)
	}
}

func (n Node) MarshalJSON() ([]byte, error) {
	switch n.kind {
	case KindScalar:
		return json.Marshal(n.scalar)
	case KindList:
		if n.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(n.list)
	default:
		if n.fields == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(n.fields)
	}
}

func (n Node) String() string {
	data, err := n.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}
