// Package scene is the minimal scene graph the streamer attaches decoded
// tile meshes to. It is single-threaded by contract: all mutation happens
// on the frame-driving goroutine.
package scene

import "github.com/go-gl/mathgl/mgl64"

// Payload is whatever a mesh decoder produced for a node. ByteSize feeds
// the resident-byte accounting of the streamer.
type Payload interface {
	ByteSize() int64
}

// Node is one scene graph node: a local transform, an optional payload,
// and children. Visible gates rendering without detaching content, which
// is how REPLACE refinement hides a parent while its children render.
type Node struct {
	Transform mgl64.Mat4
	Payload   Payload
	Visible   bool

	parent   *Node
	children []*Node
}

// NewNode returns a detached node with an identity transform.
func NewNode() *Node {
	return &Node{Transform: mgl64.Ident4(), Visible: true}
}

// Attach adds child under n, detaching it from any previous parent.
func (n *Node) Attach(child *Node) {
	if child == nil || child == n {
		return
	}
	if child.parent != nil {
		child.parent.Detach(child)
	}
	child.parent = n
	n.children = append(n.children, child)
}

// Detach removes child from n. No-op if child is not a direct child.
func (n *Node) Detach(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// Children returns the direct children. Callers must not mutate the slice.
func (n *Node) Children() []*Node {
	return n.children
}

// Visit walks the subtree depth-first, accumulating world transforms.
// Returning false from fn prunes the subtree below that node. Invisible
// nodes are still visited (their children may be visible) but carry
// Visible=false for the renderer to honour.
func (n *Node) Visit(fn func(node *Node, world mgl64.Mat4) bool) {
	n.visit(mgl64.Ident4(), fn)
}

func (n *Node) visit(parentWorld mgl64.Mat4, fn func(*Node, mgl64.Mat4) bool) {
	world := parentWorld.Mul4(n.Transform)
	if !fn(n, world) {
		return
	}
	for _, c := range n.children {
		c.visit(world, fn)
	}
}
