// Package dirtree turns a flat list of relative file paths into the nested
// name -> subtree | leaf structure the editor renders, and back.
//
// Trees are views, never a source of truth: they are rebuilt from a full
// listing whenever authority matters and only extended in place as a local
// optimization when a single file is created.
package dirtree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Node is one entry of a Tree. Exactly one of Children or Value is meaningful:
// directories carry Children, files carry Value.
type Node struct {
	Name     string
	Children *Tree
	Value    any
}

func (n *Node) IsDir() bool {
	return n.Children != nil
}

// Tree is an ordered mapping from path segment to Node. At every level
// directories come before files; otherwise insertion order is kept.
type Tree struct {
	nodes []*Node
	index map[string]*Node
}

// Valuator computes a leaf value for a full relative path.
type Valuator func(path string) any

type Options struct {
	// Valuator defaults to returning the path itself.
	Valuator Valuator
	// Ignore drops every path that has one of these segments.
	Ignore []string
}

func New() *Tree {
	return &Tree{index: make(map[string]*Node)}
}

// Build creates a tree from slash-delimited relative paths. Paths are assumed
// well formed; callers reject empty segments before they get here.
func Build(paths []string, opts Options) *Tree {
	valuator := opts.Valuator
	if valuator == nil {
		valuator = func(path string) any { return path }
	}
	tree := New()
	for _, path := range paths {
		if ignored(path, opts.Ignore) {
			continue
		}
		tree.put(path, valuator(path))
	}
	tree.sortDirsFirst()
	return tree
}

// InsertLeaf adds or overwrites a single leaf, creating intermediate
// directories as needed. Other branches keep their order.
func (t *Tree) InsertLeaf(path string, value any) {
	t.put(path, value)
	t.sortDirsFirst()
}

// Flatten lists the full path of every leaf, depth first.
func (t *Tree) Flatten() []string {
	list := make([]string, 0)
	return t.flatten(list, "")
}

func (t *Tree) flatten(list []string, prefix string) []string {
	for _, node := range t.nodes {
		full := joinPath(prefix, node.Name)
		if node.IsDir() {
			list = node.Children.flatten(list, full)
			continue
		}
		list = append(list, full)
	}
	return list
}

// Get returns the direct child called name.
func (t *Tree) Get(name string) (*Node, bool) {
	node, ok := t.index[name]
	return node, ok
}

// Lookup walks a slash-delimited path and returns the leaf value there.
func (t *Tree) Lookup(path string) (any, bool) {
	parts := strings.Split(path, "/")
	curr := t
	for i, part := range parts {
		node, ok := curr.index[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			if node.IsDir() {
				return nil, false
			}
			return node.Value, true
		}
		if !node.IsDir() {
			return nil, false
		}
		curr = node.Children
	}
	return nil, false
}

// Nodes returns the children of this level in display order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) put(path string, value any) {
	parts := strings.Split(path, "/")
	curr := t
	for len(parts) > 1 {
		part := parts[0]
		parts = parts[1:]
		node, ok := curr.index[part]
		if !ok {
			node = &Node{Name: part, Children: New()}
			curr.append(node)
		} else if !node.IsDir() {
			node.Children = New()
			node.Value = nil
		}
		curr = node.Children
	}
	name := parts[0]
	if node, ok := curr.index[name]; ok {
		node.Children = nil
		node.Value = value
		return
	}
	curr.append(&Node{Name: name, Value: value})
}

func (t *Tree) append(node *Node) {
	t.nodes = append(t.nodes, node)
	t.index[node.Name] = node
}

// sortDirsFirst is a stable partition: it floats directories up and leaves
// the relative order of directories, and of files, untouched.
func (t *Tree) sortDirsFirst() {
	dirs := make([]*Node, 0, len(t.nodes))
	files := make([]*Node, 0, len(t.nodes))
	for _, node := range t.nodes {
		if node.IsDir() {
			node.Children.sortDirsFirst()
			dirs = append(dirs, node)
			continue
		}
		files = append(files, node)
	}
	t.nodes = append(dirs, files...)
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, node := range t.nodes {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(node.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		var value []byte
		if node.IsDir() {
			value, err = node.Children.MarshalJSON()
		} else {
			value, err = json.Marshal(node.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", node.Name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object form written by MarshalJSON, keeping key
// order. Integral numbers decode as int64.
func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dirtree: expected object, got %v", tok)
	}
	decoded, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}

func decodeObject(dec *json.Decoder) (*Tree, error) {
	tree := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("dirtree: expected key, got %v", tok)
		}
		tok, err = dec.Token()
		if err != nil {
			return nil, err
		}
		switch value := tok.(type) {
		case json.Delim:
			if value != '{' {
				return nil, fmt.Errorf("dirtree: unexpected %v under %s", value, name)
			}
			children, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			tree.append(&Node{Name: name, Children: children})
		case json.Number:
			if n, err := value.Int64(); err == nil {
				tree.append(&Node{Name: name, Value: n})
			} else {
				f, _ := value.Float64()
				tree.append(&Node{Name: name, Value: f})
			}
		default:
			tree.append(&Node{Name: name, Value: value})
		}
	}
	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return tree, nil
}

func ignored(path string, ignore []string) bool {
	if len(ignore) == 0 {
		return false
	}
	for _, part := range strings.Split(path, "/") {
		for _, skip := range ignore {
			if part == skip {
				return true
			}
		}
	}
	return false
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
