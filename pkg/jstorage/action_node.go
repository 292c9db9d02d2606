package jstorage

import "github.com/cuemby/jstorage/pkg/jserr"

// actionNode is a tagged variant: either a leaf handler or a branch of
// named children, never both a map and a handler distinguished by a type
// assertion. Resolve builds one of these per call instead of walking
// nested interface{} maps.
type actionNode struct {
	handler func() (*Database, *Table, error)
	branch  map[string]*actionNode
}

// leafNode wraps a resolver as a terminal actionNode.
func leafNode(fn func() (*Database, *Table, error)) *actionNode {
	return &actionNode{handler: fn}
}

// walk descends one path segment. A missing branch or a handler node with
// segments still remaining is NotFound; reaching a handler node with no
// segments left invokes it.
func (n *actionNode) walk(segments []string) (*Database, *Table, error) {
	if len(segments) == 0 {
		if n.handler == nil {
			return nil, nil, jserr.New(jserr.NotFound, "path does not resolve to a handler")
		}
		return n.handler()
	}
	if n.branch == nil {
		return nil, nil, jserr.New(jserr.NotFound, "no route for segment %q", segments[0])
	}
	next, ok := n.branch[segments[0]]
	if !ok {
		return nil, nil, jserr.New(jserr.NotFound, "no route for segment %q", segments[0])
	}
	return next.walk(segments[1:])
}
