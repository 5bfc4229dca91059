// Package progress implements a hierarchical weighted progress tree.
// A parent node's fraction is composed bottom-up from its children's
// fractions scaled by the unit count each child was attached with.
package progress

import "sync"

// Node tracks completion of one unit of work, optionally composed from
// child nodes attached with a pending unit weight.
type Node struct {
	mu        sync.RWMutex
	total     int64
	completed int64
	children  []childNode
	onChange  func(fraction float64)
	parent    *Node
}

type childNode struct {
	node  *Node
	units int64
}

// New creates a progress node expecting the given number of units
func New(totalUnits int64) *Node {
	return &Node{total: totalUnits}
}

// SetTotal sets the number of units the node expects
func (n *Node) SetTotal(totalUnits int64) {
	n.mu.Lock()
	n.total = totalUnits
	n.mu.Unlock()
	n.notify()
}

// SetCompleted sets the number of directly completed units
func (n *Node) SetCompleted(units int64) {
	n.mu.Lock()
	if units > n.total {
		units = n.total
	}
	n.completed = units
	n.mu.Unlock()
	n.notify()
}

// Add increments the directly completed units
func (n *Node) Add(units int64) {
	n.mu.Lock()
	n.completed += units
	if n.completed > n.total {
		n.completed = n.total
	}
	n.mu.Unlock()
	n.notify()
}

// Complete marks the node fully done regardless of children
func (n *Node) Complete() {
	n.mu.Lock()
	n.completed = n.total
	n.children = nil
	n.mu.Unlock()
	n.notify()
}

// AddChild attaches a child whose fraction contributes the given number
// of pending units to this node
func (n *Node) AddChild(child *Node, units int64) {
	n.mu.Lock()
	child.parent = n
	n.children = append(n.children, childNode{node: child, units: units})
	n.mu.Unlock()
	n.notify()
}

// OnChange registers a callback invoked with the new fraction whenever
// this node or any descendant advances. Only one callback is kept.
func (n *Node) OnChange(fn func(fraction float64)) {
	n.mu.Lock()
	n.onChange = fn
	n.mu.Unlock()
}

// Fraction returns the fraction complete in [0, 1], recomputed from the
// subtree
func (n *Node) Fraction() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.total <= 0 {
		return 0
	}

	units := float64(n.completed)
	for _, c := range n.children {
		units += c.node.Fraction() * float64(c.units)
	}

	f := units / float64(n.total)
	if f > 1 {
		f = 1
	}
	return f
}

func (n *Node) notify() {
	n.mu.RLock()
	fn := n.onChange
	parent := n.parent
	n.mu.RUnlock()

	if fn != nil {
		fn(n.Fraction())
	}
	if parent != nil {
		parent.notify()
	}
}
