// Package category holds the per-user category tree.
//
// A tree is stored as one JSON document per user. In memory it is an arena of
// nodes keyed by id, with parent and child links kept as slice indices, so that
// walking and diffing never recurse over the nested document.
package category

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dan9191/finance-ledger/internal/models"
)

var (
	// ErrMalformed is returned when a tree document cannot be decoded or is structurally invalid
	ErrMalformed = errors.New("malformed category tree")
)

// Kind is the type of a category node
type Kind string

const (
	Expense Kind = "expense"
	Income  Kind = "income"
	Any     Kind = "any"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case Expense, Income, Any:
		return true
	}
	return false
}

// Accepts reports whether an operation of the given sign may reference a node of kind k
func (k Kind) Accepts(sign models.SignType) bool {
	switch k {
	case Any:
		return true
	case Expense:
		return sign == models.Expense
	case Income:
		return sign == models.Income
	}
	return false
}

// Role marks the two special system nodes
type Role uint8

const (
	RoleNone Role = iota
	RoleBlank
	RoleTransfer
)

// Node is a single category
type Node struct {
	ID     string
	Name   string
	Kind   Kind
	System bool
	Role   Role

	parent   int
	children []int
}

// IsRoot reports whether the node is the tree root
func (n Node) IsRoot() bool {
	return n.parent < 0
}

// Accepts reports whether an operation of the given sign may use this node
func (n Node) Accepts(sign models.SignType) bool {
	return n.Kind.Accepts(sign)
}

// Doc is the nested document form of a tree, used for storage, the API and fixtures
type Doc struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     Kind   `json:"type" yaml:"type"`
	System   bool   `json:"system,omitempty" yaml:"system,omitempty"`
	Blank    bool   `json:"blank,omitempty" yaml:"blank,omitempty"`
	Transfer bool   `json:"transfer,omitempty" yaml:"transfer,omitempty"`
	Children []Doc  `json:"children,omitempty" yaml:"children,omitempty"`
}

// Tree is a parsed category tree. Nodes are kept in pre-order.
type Tree struct {
	nodes    []Node
	index    map[string]int
	blank    int
	transfer int
}

// Parse decodes a stored tree document
func Parse(blob []byte) (*Tree, error) {
	var doc Doc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromDoc(doc)
}

// FromDoc builds a tree from its nested form and checks its structure:
// unique non-empty ids, known kinds, exactly one blank and one transfer node,
// both flagged system, and the blank node typed any.
func FromDoc(root Doc) (*Tree, error) {
	t := &Tree{index: make(map[string]int), blank: -1, transfer: -1}

	type frame struct {
		doc    *Doc
		parent int
	}
	stack := []frame{{doc: &root, parent: -1}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		d := f.doc

		if d.ID == "" {
			return nil, fmt.Errorf("%w: node %q has no id", ErrMalformed, d.Name)
		}
		if _, dup := t.index[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrMalformed, d.ID)
		}
		if !d.Type.Valid() {
			return nil, fmt.Errorf("%w: node %s has unknown type %q", ErrMalformed, d.ID, d.Type)
		}
		if d.Blank && d.Transfer {
			return nil, fmt.Errorf("%w: node %s is both blank and transfer", ErrMalformed, d.ID)
		}

		role := RoleNone
		switch {
		case d.Blank:
			role = RoleBlank
		case d.Transfer:
			role = RoleTransfer
		}

		idx := len(t.nodes)
		t.nodes = append(t.nodes, Node{
			ID:     d.ID,
			Name:   d.Name,
			Kind:   d.Type,
			System: d.System,
			Role:   role,
			parent: f.parent,
		})
		t.index[d.ID] = idx
		if f.parent >= 0 {
			t.nodes[f.parent].children = append(t.nodes[f.parent].children, idx)
		}

		switch role {
		case RoleBlank:
			if t.blank >= 0 {
				return nil, fmt.Errorf("%w: more than one blank node", ErrMalformed)
			}
			t.blank = idx
		case RoleTransfer:
			if t.transfer >= 0 {
				return nil, fmt.Errorf("%w: more than one transfer node", ErrMalformed)
			}
			t.transfer = idx
		}

		// push children reversed so they pop in document order
		for i := len(d.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{doc: &d.Children[i], parent: idx})
		}
	}

	if t.blank < 0 || t.transfer < 0 {
		return nil, fmt.Errorf("%w: blank and transfer nodes are required", ErrMalformed)
	}
	if !t.nodes[t.blank].System || !t.nodes[t.transfer].System {
		return nil, fmt.Errorf("%w: blank and transfer nodes must be system nodes", ErrMalformed)
	}
	if t.nodes[t.blank].Kind != Any {
		return nil, fmt.Errorf("%w: blank node must be typed any", ErrMalformed)
	}
	return t, nil
}

// Doc rebuilds the nested form
func (t *Tree) Doc() Doc {
	docs := make([]Doc, len(t.nodes))
	// children always follow their parent in pre-order, so build back to front
	for i := len(t.nodes) - 1; i >= 0; i-- {
		n := t.nodes[i]
		d := Doc{
			ID:       n.ID,
			Name:     n.Name,
			Type:     n.Kind,
			System:   n.System,
			Blank:    n.Role == RoleBlank,
			Transfer: n.Role == RoleTransfer,
		}
		for _, c := range n.children {
			d.Children = append(d.Children, docs[c])
		}
		docs[i] = d
	}
	return docs[0]
}

// MarshalJSON encodes the tree in its nested form
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Doc())
}

// Len returns the number of nodes
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Root returns the root node
func (t *Tree) Root() Node {
	return t.nodes[0]
}

// Blank returns the node orphaned operations are reassigned to
func (t *Tree) Blank() Node {
	return t.nodes[t.blank]
}

// Transfer returns the node used by every transfer leg
func (t *Tree) Transfer() Node {
	return t.nodes[t.transfer]
}

// FindByID looks a node up by id
func (t *Tree) FindByID(id string) (Node, bool) {
	idx, ok := t.index[id]
	if !ok {
		return Node{}, false
	}
	return t.nodes[idx], true
}

// Parent returns the parent of the node with the given id
func (t *Tree) Parent(id string) (Node, bool) {
	idx, ok := t.index[id]
	if !ok || t.nodes[idx].parent < 0 {
		return Node{}, false
	}
	return t.nodes[t.nodes[idx].parent], true
}

// Children returns the direct children of a node
func (t *Tree) Children(id string) []Node {
	idx, ok := t.index[id]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(t.nodes[idx].children))
	for _, c := range t.nodes[idx].children {
		out = append(out, t.nodes[c])
	}
	return out
}

// Walk visits every node in pre-order and stops at the first error
func (t *Tree) Walk(fn func(Node) error) error {
	for _, n := range t.nodes {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// First returns the first node in pre-order matching pred
func (t *Tree) First(pred func(Node) bool) (Node, bool) {
	for _, n := range t.nodes {
		if pred(n) {
			return n, true
		}
	}
	return Node{}, false
}

// DiffIDs returns the ids present in old but absent from updated, in old's pre-order
func DiffIDs(old, updated *Tree) []string {
	var removed []string
	for _, n := range old.nodes {
		if _, ok := updated.index[n.ID]; !ok {
			removed = append(removed, n.ID)
		}
	}
	return removed
}

// Moved returns the ids kept by both trees whose parent changed
func Moved(old, updated *Tree) []string {
	var moved []string
	for _, n := range updated.nodes {
		prev, ok := old.FindByID(n.ID)
		if !ok {
			continue
		}
		oldParent, _ := old.Parent(prev.ID)
		newParent, _ := updated.Parent(n.ID)
		if oldParent.ID != newParent.ID {
			moved = append(moved, n.ID)
		}
	}
	return moved
}

// Retyped returns the nodes of updated whose kind differs from old
func Retyped(old, updated *Tree) []Node {
	var retyped []Node
	for _, n := range updated.nodes {
		prev, ok := old.FindByID(n.ID)
		if ok && prev.Kind != n.Kind {
			retyped = append(retyped, n)
		}
	}
	return retyped
}
