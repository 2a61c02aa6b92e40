// Package address identifies equivalent nodes across structurally congruent
// document trees. An Address is the path of (nodeName, same-type sibling
// rank) pairs from the document to the node, written /HTML[1]/BODY[1]/P[2].
package address

import (
	"strconv"
	"strings"

	"github.com/hazyhaar/pagesync/dom"
)

// Address is a root-relative structural path.
type Address string

// Root is the address of the document itself.
const Root Address = "/"

// Segment is one step of an Address.
type Segment struct {
	Name string
	Rank int
}

func (s Segment) String() string {
	return s.Name + "[" + strconv.Itoa(s.Rank) + "]"
}

// Serialize returns the address of n. A nil node or a document serializes
// to Root.
func Serialize(n dom.Node) Address {
	var parts []string
	for n != nil && n.NodeType() != dom.DocumentNode {
		parts = append(parts, Segment{Name: n.NodeName(), Rank: rank(n)}.String())
		n = n.ParentNode()
	}
	if len(parts) == 0 {
		return Root
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return Address("/" + strings.Join(parts, "/"))
}

// rank is 1 plus the number of earlier siblings sharing n's type and name.
func rank(n dom.Node) int {
	typ, name := n.NodeType(), n.NodeName()
	r := 1
	for s := n.PreviousSibling(); s != nil; s = s.PreviousSibling() {
		if s.NodeType() == typ && s.NodeName() == name {
			r++
		}
	}
	return r
}

// Segments parses the address. It reports false on malformed input.
func (a Address) Segments() ([]Segment, bool) {
	s := string(a)
	if !strings.HasPrefix(s, "/") {
		return nil, false
	}
	var out []Segment
	for _, part := range strings.Split(s, "/")[1:] {
		if part == "" {
			continue
		}
		open := strings.LastIndexByte(part, '[')
		if open <= 0 || !strings.HasSuffix(part, "]") {
			return nil, false
		}
		r, err := strconv.Atoi(part[open+1 : len(part)-1])
		if err != nil || r < 1 {
			return nil, false
		}
		out = append(out, Segment{Name: part[:open], Rank: r})
	}
	return out, true
}

// Resolve walks the address down from root. It reports false when a segment
// cannot be satisfied or the address is malformed.
func Resolve(a Address, root dom.Node) (dom.Node, bool) {
	if root == nil {
		return nil, false
	}
	segs, ok := a.Segments()
	if !ok {
		return nil, false
	}
	cur := root
	for _, seg := range segs {
		cur = childByRank(cur, seg)
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// ResolveElement resolves a to an element of doc.
func ResolveElement(a Address, doc dom.Document) (dom.Element, bool) {
	n, ok := Resolve(a, doc)
	if !ok {
		return nil, false
	}
	return dom.IsElement(n)
}

func childByRank(parent dom.Node, seg Segment) dom.Node {
	count := 0
	for _, c := range parent.ChildNodes() {
		if c.NodeName() != seg.Name {
			continue
		}
		count++
		if count == seg.Rank {
			return c
		}
	}
	return nil
}
