package router

import (
	"sort"
	"strings"
)

// cmdNode is one token of a command route. Aliases are extra keys in the
// parent's children map pointing at the same node.
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.ToLower(route))
}

// add registers c under route and returns its node.
func (n *cmdNode) add(route []string, c Command) *cmdNode {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[name]
	return c, ok
}

// alias makes name resolve to target under n unless name is taken.
func (n *cmdNode) alias(name string, target *cmdNode) {
	if name == "" || target == nil {
		return
	}
	if _, exists := n.children[name]; exists {
		return
	}
	n.children[name] = target
}

// childNames lists canonical children, skipping aliases, sorted.
func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k, c := range n.children {
		if c.name == k {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (n *cmdNode) hidden() bool {
	return n.cmd != nil && n.cmd.Hidden && len(n.children) == 0
}
