package xmltree

import "strings"

// Node is one decoded XML element. Names are local names with any namespace
// prefix removed. A nil *Node is valid and behaves as an empty element, so
// lookups can be chained without intermediate checks.
type Node struct {
	Name  string
	Attrs map[string]string
	Text  string

	fields []*field
	index  map[string]*field
}

// field holds every occurrence of one child element name.
type field struct {
	name  string
	nodes []*Node
	list  bool
}

func (n *Node) add(child *Node, declaredList bool) {
	if n.index == nil {
		n.index = make(map[string]*field)
	}
	f, ok := n.index[child.Name]
	if !ok {
		f = &field{name: child.Name}
		n.index[child.Name] = f
		n.fields = append(n.fields, f)
	}
	f.nodes = append(f.nodes, child)
	if declaredList || len(f.nodes) > 1 {
		f.list = true
	}
}

// Child returns the first child element with the given name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	f, ok := n.index[name]
	if !ok || len(f.nodes) == 0 {
		return nil
	}
	return f.nodes[0]
}

// Children returns every child element with the given name in document order.
// A scalar field is returned as a one-element slice.
func (n *Node) Children(name string) []*Node {
	if n == nil {
		return nil
	}
	f, ok := n.index[name]
	if !ok {
		return nil
	}
	return f.nodes
}

// IsList reports whether the named child decoded as a list.
func (n *Node) IsList(name string) bool {
	if n == nil {
		return false
	}
	f, ok := n.index[name]
	return ok && f.list
}

// Attr returns the attribute with the given local name, or "".
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attrs[name]
}

// Value returns the trimmed text of the named child, or "".
func (n *Node) Value(name string) string {
	return n.Child(name).TextValue()
}

// TextValue returns the element text, or "" for a nil node.
func (n *Node) TextValue() string {
	if n == nil {
		return ""
	}
	return n.Text
}

// Path follows a dotted path of child names, taking the first occurrence at
// every step.
func (n *Node) Path(path string) *Node {
	cur := n
	for _, name := range strings.Split(path, ".") {
		if cur == nil {
			return nil
		}
		cur = cur.Child(name)
	}
	return cur
}

// Find follows a dotted path of child names and returns every node reached,
// fanning out over list fields at each step.
func (n *Node) Find(path string) []*Node {
	if n == nil {
		return nil
	}
	cur := []*Node{n}
	for _, name := range strings.Split(path, ".") {
		var next []*Node
		for _, c := range cur {
			next = append(next, c.Children(name)...)
		}
		if len(next) == 0 {
			return nil
		}
		cur = next
	}
	return cur
}

// Interface renders the node as a generic tree: a leaf without attributes is a
// string, anything else a map with "@_"-prefixed attributes, "#text" for
// element text, and one entry per child name holding either a single value or
// a []any for list fields.
func (n *Node) Interface() any {
	if n == nil {
		return nil
	}
	if len(n.Attrs) == 0 && len(n.fields) == 0 {
		return n.Text
	}
	m := make(map[string]any, len(n.Attrs)+len(n.fields)+1)
	for k, v := range n.Attrs {
		m["@_"+k] = v
	}
	if n.Text != "" {
		m["#text"] = n.Text
	}
	for _, f := range n.fields {
		if f.list {
			items := make([]any, 0, len(f.nodes))
			for _, c := range f.nodes {
				items = append(items, c.Interface())
			}
			m[f.name] = items
			continue
		}
		m[f.name] = f.nodes[0].Interface()
	}
	return m
}
