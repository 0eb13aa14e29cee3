// Package depgraph builds the intra-bundle dependency graph used both
// to detect dependency cycles within a bundle and to pack instructions
// into issue slots under a machine's functional-unit layout.
package depgraph

import (
	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/reg"
)

// Config carries the subset of a machine configuration the packer
// needs: which functional-unit classes each issue slot accepts, and
// which slots a long-immediate instruction in a given slot may borrow
// encoding space from.
type Config struct {
	Layout [][]inst.FUClass
	Borrow [][]int
}

func (c *Config) slotAccepts(slot int, fu inst.FUClass) bool {
	for _, f := range c.Layout[slot] {
		if f == fu {
			return true
		}
	}
	return false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Node is one instruction's slot in the graph, or a "follow" node
// occupying the borrow slot of a preceding long-immediate instruction.
type Node struct {
	Insn         *inst.Instruction // nil for a follow node
	FollowParent *Node
	Children     map[*Node]bool
	Parents      map[*Node]bool
	Issued       bool
	Index        int // -1 when unissued
	First, Last  int
	RefCount     int
}

func newInstructionNode(in *inst.Instruction) *Node {
	return &Node{
		Insn:     in,
		Index:    -1,
		First:    0,
		Last:     7,
		Children: map[*Node]bool{},
		Parents:  map[*Node]bool{},
	}
}

func newFollowNode() *Node {
	return &Node{
		Index:    -1,
		First:    0,
		Last:     7,
		Children: map[*Node]bool{},
		Parents:  map[*Node]bool{},
	}
}

func (n *Node) issue(index int) {
	n.Index = index
	n.Issued = true
	n.updateGraph()
}

func (n *Node) unissue() {
	n.Index = -1
	n.Issued = false
	n.updateGraph()
}

func (n *Node) updateGraph() {
	for c := range n.Children {
		c.updateIndex()
	}
	for p := range n.Parents {
		p.updateIndex()
	}
}

// updateIndex narrows [First, Last] from the issue indices of already
// placed neighbors, rounding to the even slot boundary the way a
// 2-wide issue group is addressed.
func (n *Node) updateIndex() {
	n.First = 0
	n.Last = 7
	for c := range n.Children {
		if c.Issued && c.Index > n.First {
			n.First = c.Index - (c.Index % 2)
		}
	}
	for p := range n.Parents {
		if p.Issued && p.Index < n.Last {
			n.Last = p.Index - (p.Index % 2) + 1
		}
	}
}

// Graph is the dependency graph of one bundle's instructions.
type Graph struct {
	Nodes  []*Node
	Issued map[int]bool
	Config *Config
}

// NewGraph builds the graph for insns, adding a follow node after every
// instruction that needs a long-immediate borrow slot.
func NewGraph(insns []*inst.Instruction, config *Config) *Graph {
	g := &Graph{Issued: map[int]bool{}, Config: config}
	for _, in := range insns {
		node := newInstructionNode(in)
		g.Nodes = append(g.Nodes, node)
		if in.HasLongImm() {
			follow := newFollowNode()
			follow.FollowParent = node
			g.Nodes = append(g.Nodes, follow)
		}
	}
	g.BuildGraph()
	return g
}

// BuildGraph links every node to the nodes it depends on: instructions
// that write a register it reads, and any branch-family instruction
// (which must stay ordered after everything else in the bundle).
func (g *Graph) BuildGraph() {
	for _, node := range g.Nodes {
		g.updateChild(node)
	}
}

func (g *Graph) updateChild(node *Node) {
	if node.Insn == nil {
		return
	}
	src := node.Insn.GetReadRegisters()
	for _, node2 := range g.Nodes {
		if node2 == node || node2.Insn == nil {
			continue
		}
		if intersects(src, node2.Insn.GetWrittenRegisters()) || node2.Insn.Controls() {
			node2.Children[node] = true
			node.Parents[node2] = true
		}
	}
}

func intersects(a, b reg.Set) bool {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for r := range small {
		if big.Has(r) {
			return true
		}
	}
	return false
}

// Issue marks node as placed in issue and records the slot as taken.
func (g *Graph) Issue(node *Node, issue int) {
	node.issue(issue)
	g.Issued[issue] = true
}

// Unissue reverts a previous Issue call.
func (g *Graph) Unissue(node *Node, issue int) {
	node.unissue()
	delete(g.Issued, issue)
}

// GetNext returns the first not-yet-issued node, or nil if all are
// placed.
func (g *Graph) GetNext() *Node {
	for _, node := range g.Nodes {
		if !node.Issued {
			return node
		}
	}
	return nil
}

// CanIssue reports whether node may be placed at issue slot issue.
func (g *Graph) CanIssue(node *Node, issue int) bool {
	if g.Issued[issue] || issue >= len(g.Config.Layout) {
		return false
	}
	if node.Insn == nil {
		if !node.FollowParent.Issued {
			return false
		}
		return containsInt(g.Config.Borrow[node.FollowParent.Index], issue)
	}
	if !g.Config.slotAccepts(issue, node.Insn.FUClass()) {
		return false
	}
	if !node.Insn.HasLongImm() {
		return true
	}
	for _, idx := range g.Config.Borrow[issue] {
		if !g.Issued[idx] {
			return true
		}
	}
	return false
}

// Scheduled reports whether every node has been placed.
func (g *Graph) Scheduled() bool {
	for _, node := range g.Nodes {
		if !node.Issued {
			return false
		}
	}
	return true
}

type stackEntry struct {
	node  *Node
	issue int
}

// Schedule2 packs every node into an issue slot via chronological
// backtracking: place the next unplaced node in the lowest available
// slot in its current [First, Last] window; on failure to place any
// node, pop the stack and retry the previous placement from where it
// left off.
func (g *Graph) Schedule2() bool {
	var stack []stackEntry
	retry := false
	start := 0
	for {
		node := g.GetNext()
		if node == nil {
			return true
		}
		if !retry {
			start = node.First
		}
		retry = false
		placed := false
		end := node.Last + 1
		for i := start; i < end; i++ {
			if g.CanIssue(node, i) {
				g.Issue(node, i)
				stack = append(stack, stackEntry{node, i})
				placed = true
				break
			}
		}
		if !placed {
			if len(stack) == 0 {
				return false
			}
			last := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			g.Unissue(last.node, last.issue)
			start = last.issue + 1
			retry = true
		}
	}
}

func (g *Graph) updateRef(node *Node, delta int) {
	if node.Insn == nil {
		return
	}
	src := node.Insn.GetReadRegisters()
	for _, node2 := range g.Nodes {
		if node2 == node || node2.Insn == nil {
			continue
		}
		if intersects(src, node2.Insn.GetWrittenRegisters()) || node2.Insn.Controls() {
			node2.RefCount += delta
		}
	}
}

// Schedule performs a reference-counted topological peel (Kahn's
// algorithm run from the sink side) to detect a dependency cycle. It
// returns nil if the nodes are acyclic, or the instructions that
// remain stuck in a cycle otherwise. The graph is consumed by this
// call.
func (g *Graph) Schedule() []*inst.Instruction {
	if len(g.Nodes) == 0 {
		return nil
	}
	for _, node := range g.Nodes {
		g.updateRef(node, 1)
	}
	nodes := append([]*Node(nil), g.Nodes...)
	for {
		var picked *Node
		idx := -1
		for i, node := range nodes {
			if node.RefCount == 0 {
				picked = node
				idx = i
				break
			}
		}
		if picked == nil {
			out := make([]*inst.Instruction, 0, len(nodes))
			for _, node := range nodes {
				if node.Insn != nil {
					out = append(out, node.Insn)
				}
			}
			return out
		}
		nodes = append(nodes[:idx], nodes[idx+1:]...)
		if len(nodes) == 0 {
			return nil
		}
		g.updateRef(picked, -1)
	}
}
