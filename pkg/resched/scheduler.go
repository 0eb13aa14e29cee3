// Package resched implements the basic-block list scheduler: given a
// machine configuration, it reorders each basic block's instructions
// to minimize encoding size while respecting RAW/WAR/WAW and
// control-flow ordering constraints, then repacks them into bundles.
package resched

import (
	"fmt"
	"math"
	"os"

	"github.com/vexresched/vexresched/pkg/bundle"
	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/machine"
	"github.com/vexresched/vexresched/pkg/reg"
)

// Logger receives diagnostics emitted while scheduling. A nil Logger
// (or one with no Warnf) writes to stderr, and only when bundle.Debug
// is set.
type Logger struct {
	Warnf func(format string, args ...interface{})
}

func (l *Logger) warn(format string, args ...interface{}) {
	if l == nil || l.Warnf == nil {
		if bundle.Debug {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
		return
	}
	l.Warnf(format, args...)
}

// node is one scheduler graph node: either a real instruction or the
// synthetic end-of-basic-block sentinel representing the successor
// block's early register reads.
type node struct {
	insn     *inst.Instruction
	isEnd    bool
	delay    int
	succRegs map[reg.Register]int

	written, read reg.Set

	raw, war, waw, rbw, wbr, wbw map[*node]bool

	origIndex int

	scheduled bool
	index     int

	prio  int
	start int
}

func newNode(in *inst.Instruction, origIndex int) *node {
	return &node{
		insn:      in,
		written:   in.GetWrittenRegisters(),
		read:      in.GetReadRegisters(),
		origIndex: origIndex,
		raw:       map[*node]bool{},
		war:       map[*node]bool{},
		waw:       map[*node]bool{},
		rbw:       map[*node]bool{},
		wbr:       map[*node]bool{},
		wbw:       map[*node]bool{},
	}
}

func newEndBBNode(origIndex, delay int, succRegs map[reg.Register]int) *node {
	read := make(reg.Set, len(succRegs))
	for r := range succRegs {
		read.Add(r)
	}
	return &node{
		isEnd:     true,
		delay:     delay,
		succRegs:  succRegs,
		read:      read,
		written:   reg.Set{},
		origIndex: origIndex,
		raw:       map[*node]bool{},
		war:       map[*node]bool{},
		waw:       map[*node]bool{},
		rbw:       map[*node]bool{},
		wbr:       map[*node]bool{},
		wbw:       map[*node]bool{},
	}
}

func (n *node) cost() int {
	if n.isEnd {
		return 1
	}
	return n.insn.Cost()
}

func (n *node) fu() inst.FUClass {
	if n.isEnd {
		return inst.ALU
	}
	return n.insn.FUClass()
}

func (n *node) controls() bool {
	if n.isEnd {
		return false
	}
	return n.insn.Controls()
}

func (n *node) lineNo() int {
	if n.isEnd {
		return -1
	}
	return n.insn.LineNo
}

// costTo is the delay from n producing its result to to consuming it.
func (n *node) costTo(to *node) int {
	c := n.cost()
	if to.isEnd {
		c -= to.delay
	}
	return c
}

func (n *node) sortKey() string {
	if n.isEnd {
		return fmt.Sprintf("EndBBNode %d", n.delay)
	}
	return fmt.Sprintf("%s: %d %v", n.insn.String(), n.origIndex, n.insn.HasLongImm())
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

// buildRawGraph links a node to every downstream node that reads a
// register it writes (read-after-write).
func buildRawGraph(nodes []*node) {
	for _, n := range nodes {
		written := n.written
		writtenTemp := written
		tempIndex := n.origIndex
		for _, n2 := range nodes {
			if n == n2 {
				continue
			}
			if n.origIndex >= n2.origIndex {
				continue
			}
			if tempIndex < n2.origIndex {
				tempIndex = n2.origIndex
				written = writtenTemp
			}
			if len(written) == 0 {
				break
			}
			if intersects(written, n2.read) {
				n2.raw[n] = true
				n.wbr[n2] = true
			}
			writtenTemp = writtenTemp.Minus(n2.written)
		}
	}
}

// buildWarGraph links a node to every downstream node that overwrites
// a register it reads (write-after-read).
func buildWarGraph(nodes []*node) {
	for _, n := range nodes {
		read := n.read
		readTemp := read
		tempIndex := n.origIndex
		for _, n2 := range nodes {
			if n.origIndex > n2.origIndex {
				continue
			}
			if n == n2 {
				continue
			}
			if tempIndex < n2.origIndex {
				tempIndex = n2.origIndex
				read = readTemp
			}
			if len(read) == 0 {
				break
			}
			readTemp = readTemp.Minus(n2.written)
			if intersects(read, n2.written) {
				n2.war[n] = true
				n.rbw[n2] = true
			}
		}
	}
}

// buildMemGraph forces memory operations to keep their original
// relative order (write-after-write on the abstract memory state).
func buildMemGraph(nodes []*node) {
	for _, n := range nodes {
		if n.fu() != inst.MEM {
			continue
		}
		for _, n2 := range nodes {
			if n == n2 {
				continue
			}
			if n.origIndex >= n2.origIndex {
				continue
			}
			if n2.fu() != inst.MEM {
				continue
			}
			n.wbw[n2] = true
			n2.waw[n] = true
			break
		}
	}
}

// buildControlGraph makes every branch-family instruction depend on
// each instruction whose result nothing reads (and that has no later
// memory operation chained after it), so the branch always ends up
// last in the basic block.
func buildControlGraph(nodes []*node) {
	for _, n := range nodes {
		if len(n.wbr) > 0 || len(n.wbw) > 0 {
			continue
		}
		for _, n2 := range nodes {
			if n == n2 {
				continue
			}
			if n2.controls() {
				n2.war[n] = true
				n.rbw[n2] = true
			}
		}
	}
}

func allScheduled(set map[*node]bool) bool {
	for x := range set {
		if !x.scheduled {
			return false
		}
	}
	return true
}

// calcPrio assigns each node a priority: the longest weighted path
// from that node to the end of the basic block, computed bottom-up.
func calcPrio(nodes []*node) error {
	roots := map[*node]bool{}
	visited := map[*node]bool{}
	for _, n := range nodes {
		n.prio = 0
	}
	return calcPrioLoop(nodes, roots, visited)
}

func allVisited(set map[*node]bool, visited map[*node]bool) bool {
	for x := range set {
		if !visited[x] {
			return false
		}
	}
	return true
}

func calcPrioLoop(nodes []*node, roots, visited map[*node]bool) error {
	for {
		for _, n := range nodes {
			if visited[n] {
				continue
			}
			if allVisited(n.wbr, visited) && allVisited(n.rbw, visited) && allVisited(n.wbw, visited) {
				roots[n] = true
			}
		}
		if len(roots) == 0 {
			break
		}
		var chosen *node
		for n := range roots {
			if chosen == nil || n.sortKey() < chosen.sortKey() {
				chosen = n
			}
		}
		prios := []int{chosen.prio}
		if len(chosen.wbr) > 0 {
			best := math.MinInt
			for x := range chosen.wbr {
				if v := x.prio + chosen.costTo(x); v > best {
					best = v
				}
			}
			prios = append(prios, best)
		}
		if len(chosen.rbw) > 0 {
			best := math.MinInt
			for x := range chosen.rbw {
				if x.prio > best {
					best = x.prio
				}
			}
			prios = append(prios, best)
		}
		if len(chosen.wbw) > 0 {
			best := math.MinInt
			for x := range chosen.wbw {
				if v := x.prio + 1; v > best {
					best = v
				}
			}
			prios = append(prios, best)
		}
		maxPrio := prios[0]
		for _, p := range prios[1:] {
			if p > maxPrio {
				maxPrio = p
			}
		}
		chosen.prio = maxPrio
		visited[chosen] = true
		delete(roots, chosen)
	}
	for _, n := range nodes {
		if !visited[n] {
			return fmt.Errorf("not all priorities calculated around line %d", n.lineNo())
		}
	}
	return nil
}

// updateReadyList returns the subset of nodes whose RAW/WAR/WAW
// dependencies have all been scheduled, and refreshes each node's
// earliest start position.
func updateReadyList(nodes map[*node]bool) map[*node]bool {
	ready := map[*node]bool{}
	for n := range nodes {
		if allScheduled(n.raw) && allScheduled(n.war) && allScheduled(n.waw) {
			ready[n] = true
		}
		s := []int{0}
		for x := range n.raw {
			if x.scheduled {
				s = append(s, x.index+x.costTo(n))
			}
		}
		for x := range n.war {
			if x.scheduled {
				s = append(s, x.index)
			}
		}
		for x := range n.waw {
			if x.scheduled {
				s = append(s, x.index+1)
			}
		}
		max := s[0]
		for _, v := range s[1:] {
			if v > max {
				max = v
			}
		}
		n.start = max
	}
	return ready
}

// BasicBlock is a contiguous run of bundles scheduled as a unit.
type BasicBlock struct {
	Bundles   []*bundle.Bundle
	Scheduled bool
	Successor *BasicBlock
}

func (bb *BasicBlock) buildInstructionGraph(succRegs map[reg.Register]int) []*node {
	var nodes []*node
	for index, b := range bb.Bundles {
		for _, in := range b.Insns {
			nodes = append(nodes, newNode(in, index))
		}
	}
	if len(succRegs) > 0 {
		nodes = append(nodes, newEndBBNode(len(bb.Bundles), 1, succRegs))
	}
	buildRawGraph(nodes)
	buildWarGraph(nodes)
	buildMemGraph(nodes)
	buildControlGraph(nodes)
	return nodes
}

// GetReadRegisters returns the registers read in this block's first
// bundle (at most delay-1 bundles matter, and the longest instruction
// latency this tool models is 2 cycles).
func (bb *BasicBlock) GetReadRegisters() map[reg.Register]int {
	const maxDelay = 2
	read := map[reg.Register]int{}
	written := make(reg.Set)
	n := maxDelay - 1
	if n > len(bb.Bundles) {
		n = len(bb.Bundles)
	}
	for i := 0; i < n; i++ {
		b := bb.Bundles[i]
		for r := range b.GetRead() {
			if !written.Has(r) {
				read[r] = i
			}
		}
		written = written.Union(b.GetWritten())
	}
	return read
}

// Reschedule list-schedules this basic block's instructions, growing
// the schedule length until every instruction can be placed, then
// repacks the result into fresh bundles.
func (bb *BasicBlock) Reschedule(config *machine.Config, logger *Logger) error {
	if bb.Successor != nil && !bb.Successor.Scheduled {
		return fmt.Errorf("resched: successor basic block not scheduled")
	}
	var succRegs map[reg.Register]int
	if bb.Successor != nil {
		succRegs = bb.Successor.GetReadRegisters()
	}
	nodes := bb.buildInstructionGraph(succRegs)
	if len(nodes) == 0 {
		bb.Scheduled = true
		return nil
	}
	toSchedule := make(map[*node]bool, len(nodes))
	for _, n := range nodes {
		toSchedule[n] = true
	}
	ready := map[*node]bool{}
	scheduled := map[int][]*node{}

	if err := calcPrio(nodes); err != nil {
		return err
	}

	totalLength := 0
	for _, n := range nodes {
		if n.prio > totalLength {
			totalLength = n.prio
		}
	}
	if ceilLen := ceilDiv(len(nodes), 8) - 1; ceilLen > totalLength {
		totalLength = ceilLen
	}
	for _, n := range nodes {
		n.scheduled = false
		n.index = 0
	}

	sched := machine.NewScheduler(config)
	repeat := 0
	for {
		for n := range updateReadyList(toSchedule) {
			ready[n] = true
		}
		if len(ready) == 0 {
			break
		}
		node := pickReady(ready, totalLength)
		if node.isEnd {
			if node.start > totalLength {
				totalLength = node.start
			}
			node.index = node.start
			node.scheduled = true
			delete(ready, node)
			delete(toSchedule, node)
			nodes = removeNode(nodes, node)
			continue
		}
		end := totalLength - node.prio
		start := node.start
		type candidate struct {
			score, index, size int
		}
		var selected []candidate
		for index := start; index <= end; index++ {
			newNodes := append(scheduled[index][:0:0], scheduled[index]...)
			before := sched.Cost(sched.Size(insnsOf(newNodes)))
			if sched.Size(insnsOf(newNodes)) == 8 {
				continue
			}
			c := 0
			for x := range toSchedule {
				if index == totalLength-x.prio {
					c++
				}
			}
			penalty := 0
			if sched.Size(insnsOf(newNodes))+c > 8 {
				penalty = 2
			}
			newNodes = append(newNodes, node)
			if !sched.Schedule2(insnsOf(newNodes)) {
				continue
			}
			after := sched.Cost(sched.Size(insnsOf(newNodes)))
			size := sched.Size(insnsOf(newNodes))
			selected = append(selected, candidate{after - before + penalty, index, size})
		}
		if len(selected) == 0 {
			if repeat > len(nodes) {
				logger.warn("cannot schedule basic block around line %d", bb.Bundles[0].LineNo)
				return fmt.Errorf("resched: cannot schedule basic block around line %d", bb.Bundles[0].LineNo)
			}
			repeat++
			totalLength++
			logger.warn("expanding basic block %d times around line %d", repeat, node.lineNo())
			continue
		}
		best := selected[0]
		for _, c := range selected[1:] {
			if c.score < best.score || (c.score == best.score && c.index < best.index) {
				best = c
			}
		}
		node.index = best.index
		node.scheduled = true
		scheduled[node.index] = append(scheduled[node.index], node)
		delete(toSchedule, node)
		delete(ready, node)
	}

	var newBundles []*bundle.Bundle
	for i := 0; i <= totalLength; i++ {
		var insns []*inst.Instruction
		for _, n := range scheduled[i] {
			insns = append(insns, n.insn)
		}
		b := bundle.NewNormal(insns, nil, 0)
		if i == 0 && len(bb.Bundles[0].Labels) > 0 {
			b.Labels = bb.Bundles[0].Labels
		}
		newBundles = append(newBundles, b)
	}
	if len(newBundles) > len(bb.Bundles) {
		if len(bb.Bundles[0].Insns) > 0 {
			logger.warn("new length: %d vs %d around line %d", len(newBundles), len(bb.Bundles), bb.Bundles[0].Insns[0].LineNo)
		} else {
			logger.warn("new length: %d vs %d", len(newBundles), len(bb.Bundles))
		}
	}
	bb.Scheduled = true
	bb.Bundles = newBundles
	return nil
}

func insnsOf(nodes []*node) []*inst.Instruction {
	out := make([]*inst.Instruction, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.insn)
	}
	return out
}

func removeNode(nodes []*node, target *node) []*node {
	out := nodes[:0]
	for _, n := range nodes {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// pickReady selects the ready node with the least scheduling freedom:
// the smallest slack (totalLength - prio - start), breaking ties by
// smallest (totalLength - prio) then by source line number.
func pickReady(ready map[*node]bool, totalLength int) *node {
	var best *node
	for n := range ready {
		if best == nil || less(n, best, totalLength) {
			best = n
		}
	}
	return best
}

func less(a, b *node, totalLength int) bool {
	ka := [3]int{totalLength - a.prio - a.start, totalLength - a.prio, a.lineNo()}
	kb := [3]int{totalLength - b.prio - b.start, totalLength - b.prio, b.lineNo()}
	for i := range ka {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	return false
}

// SplitIntoBasicBlocks groups a function's real bundles into basic
// blocks, linking fallthrough successors (a block whose last bundle
// lists "next" among its destinations, and which does not end in a
// call).
func SplitIntoBasicBlocks(bundles []*bundle.Bundle) []*BasicBlock {
	var bbs []*BasicBlock
	var cur []*bundle.Bundle
	linkFallthrough := func(next *BasicBlock) {
		if len(bbs) == 0 {
			return
		}
		last := bbs[len(bbs)-1]
		lastBundle := last.Bundles[len(last.Bundles)-1]
		if hasNextDestination(lastBundle) && !lastBundle.HasCall() {
			last.Successor = next
		}
	}
	for _, b := range bundles {
		if b.IsFake() {
			continue
		}
		if b.BeginsBB() && len(cur) > 0 {
			newBB := &BasicBlock{Bundles: cur}
			linkFallthrough(newBB)
			bbs = append(bbs, newBB)
			cur = nil
		}
		cur = append(cur, b)
		if b.EndsBB() {
			newBB := &BasicBlock{Bundles: cur}
			linkFallthrough(newBB)
			bbs = append(bbs, newBB)
			cur = nil
		}
	}
	if len(cur) > 0 {
		newBB := &BasicBlock{Bundles: cur}
		linkFallthrough(newBB)
		bbs = append(bbs, newBB)
	}
	return bbs
}

func hasNextDestination(b *bundle.Bundle) bool {
	for _, d := range b.GetDestination() {
		if d.Kind == inst.DestNext {
			return true
		}
	}
	return false
}

// Reschedule rebuilds a function's bundle list by list-scheduling each
// basic block in reverse program order (so a block already knows which
// of its results its successor will need early) and repacking the
// Entry/Exit/CallSite fakes around the result. An unschedulable basic
// block is a fatal error: the source aborts the whole run with exit(1)
// rather than emit a partial reschedule, so this returns the error
// with no bundles instead of falling back to the block's prior form.
func Reschedule(bundles []*bundle.Bundle, config *machine.Config) ([]*bundle.Bundle, error) {
	logger := &Logger{}
	bbs := SplitIntoBasicBlocks(bundles)
	for i := len(bbs) - 1; i >= 0; i-- {
		if err := bbs[i].Reschedule(config, logger); err != nil {
			return nil, err
		}
	}
	var out []*bundle.Bundle
	out = append(out, bundle.NewEntry())
	for _, bb := range bbs {
		out = append(out, bb.Bundles...)
		if out[len(out)-1].HasCall() {
			out = append(out, bundle.NewCallSite(nil, nil))
		}
	}
	out = append(out, bundle.NewExit())
	return out, nil
}
