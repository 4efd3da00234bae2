// Package halloc is a hierarchical allocator: every allocation is a context owned by
// exactly one parent context, and freeing a context frees its whole subtree.
//
// Contexts live in the node arena of a Tree and are addressed by Ctx handles.
// A Tree is not safe for concurrent use; independent Trees share no state.
package halloc

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/QuangTung97/halloc/allocator"
	"github.com/QuangTung97/halloc/ilist"
)

// Ctx is a handle to a context. The zero value is Null, the parent of every root.
type Ctx struct {
	index uint32
	gen   uint32
}

// Null is the implicit parent of root contexts.
var Null = Ctx{}

// IsNull ...
func (c Ctx) IsNull() bool {
	return c.index == 0
}

func (c Ctx) String() string {
	if c.IsNull() {
		return "ctx(null)"
	}
	return fmt.Sprintf("ctx(%d.%d)", c.index, c.gen)
}

// Tree owns the node arena and the general allocator behind it.
type Tree struct {
	nodes       []node
	freeIndices []uint32

	heap     allocator.Heap
	align    uint32
	logger   *slog.Logger
	reporter *LeakReporter
}

type siblingList Tree

func (s *siblingList) Links(index uint32) *ilist.Links {
	return &s.nodes[index].siblings
}

type referenceList Tree

func (s *referenceList) Links(index uint32) *ilist.Links {
	return &s.nodes[index].refLinks
}

func (t *Tree) siblings() *siblingList {
	return (*siblingList)(t)
}

func (t *Tree) references() *referenceList {
	return (*referenceList)(t)
}

// NewTree ...
func NewTree(conf Config) *Tree {
	treeValidateConfig(conf)
	conf = applyDefaults(conf)

	t := &Tree{
		heap:     conf.Heap,
		align:    conf.PoolAlignment,
		logger:   conf.Logger,
		reporter: conf.Reporter,
	}
	t.nodes = append(t.nodes, node{
		live:     true,
		name:     nullName,
		parent:   ilist.NullIndex,
		siblings: ilist.NewLinks(),
		children: ilist.New(),
		refs:     ilist.New(),
		refLinks: ilist.NewLinks(),
		target:   ilist.NullIndex,
	})
	return t
}

// SetLogSink replaces the structured logger, nil silences it.
func (t *Tree) SetLogSink(logger *slog.Logger) {
	if logger == nil {
		logger = noopLogger()
	}
	t.logger = logger
}

// Heap returns the general allocator of the tree.
func (t *Tree) Heap() allocator.Heap {
	return t.heap
}

func (t *Tree) ctxOf(index uint32) Ctx {
	if index == 0 {
		return Null
	}
	return Ctx{index: index, gen: t.nodes[index].gen}
}

func (t *Tree) resolve(c Ctx) (uint32, error) {
	if c.index == 0 || int(c.index) >= len(t.nodes) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidContext, c)
	}
	n := &t.nodes[c.index]
	if !n.live || n.gen != c.gen || n.kind == kindReference {
		return 0, fmt.Errorf("%w: %s", ErrInvalidContext, c)
	}
	return c.index, nil
}

// resolveParent accepts Null as well.
func (t *Tree) resolveParent(c Ctx) (uint32, error) {
	if c == Null {
		return 0, nil
	}
	return t.resolve(c)
}

// IsValid reports whether c refers to a live context.
func (t *Tree) IsValid(c Ctx) bool {
	_, err := t.resolve(c)
	return err == nil
}

func checkSize(size int) (uint32, error) {
	if size < 0 || uint64(size) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrSizeOverflow, size)
	}
	return uint32(size), nil
}

func (t *Tree) newNode(parent uint32, kind nodeKind, size uint32, name string) uint32 {
	var index uint32
	if n := len(t.freeIndices); n > 0 {
		index = t.freeIndices[n-1]
		t.freeIndices = t.freeIndices[:n-1]
	} else {
		index = uint32(len(t.nodes))
		t.nodes = append(t.nodes, node{})
	}

	t.nodes[index] = node{
		gen:      t.nodes[index].gen + 1,
		live:     true,
		kind:     kind,
		size:     size,
		name:     name,
		parent:   parent,
		siblings: ilist.NewLinks(),
		children: ilist.New(),
		refs:     ilist.New(),
		refLinks: ilist.NewLinks(),
		target:   ilist.NullIndex,
	}
	t.nodes[parent].children.PushBack(t.siblings(), index)
	return index
}

func (t *Tree) releaseNode(index uint32) {
	gen := t.nodes[index].gen
	t.nodes[index] = node{gen: gen}
	t.freeIndices = append(t.freeIndices, index)
}

// move detaches index from its parent and appends it under newParent.
func (t *Tree) move(index uint32, newParent uint32) {
	n := &t.nodes[index]
	t.nodes[n.parent].children.Remove(t.siblings(), index)
	t.nodes[newParent].children.PushBack(t.siblings(), index)
	n.parent = newParent
}

// isAncestor reports whether anc is index or one of its ancestors.
func (t *Tree) isAncestor(anc uint32, index uint32) bool {
	for n := index; n != ilist.NullIndex; n = t.nodes[n].parent {
		if n == anc {
			return true
		}
	}
	return false
}

// SetName sets the name of c. With args, format is expanded like fmt.Sprintf.
func (t *Tree) SetName(c Ctx, format string, args ...any) error {
	index, err := t.resolve(c)
	if err != nil {
		return err
	}
	name := format
	if len(args) > 0 {
		name = fmt.Sprintf(format, args...)
	}
	t.nodes[index].name = name
	return nil
}

// Name returns the name of c, "UNNAMED" if none was set and "" for stale handles.
func (t *Tree) Name(c Ctx) string {
	if c == Null {
		return nullName
	}
	index, err := t.resolve(c)
	if err != nil {
		return ""
	}
	return t.nodes[index].name
}

// SetDestructor ...
func (t *Tree) SetDestructor(c Ctx, d Destructor) error {
	index, err := t.resolve(c)
	if err != nil {
		return err
	}
	t.nodes[index].destructor = d
	return nil
}

// SetValue attaches an opaque payload to c. The tree never looks inside it.
func (t *Tree) SetValue(c Ctx, v any) error {
	index, err := t.resolve(c)
	if err != nil {
		return err
	}
	t.nodes[index].value = v
	return nil
}

// Value ...
func (t *Tree) Value(c Ctx) any {
	index, err := t.resolve(c)
	if err != nil {
		return nil
	}
	return t.nodes[index].value
}

// Size returns the logical size of c in bytes.
func (t *Tree) Size(c Ctx) int {
	index, err := t.resolve(c)
	if err != nil {
		return 0
	}
	return int(t.nodes[index].size)
}

// Bytes returns the memory of c. For pools and caches it is the whole backing block.
func (t *Tree) Bytes(c Ctx) []byte {
	index, err := t.resolve(c)
	if err != nil {
		return nil
	}
	n := &t.nodes[index]
	if n.region != nil {
		return n.region.data
	}
	return bytesOf(n.mem)
}

// String returns the bytes of c as a string, see Strdup.
func (t *Tree) String(c Ctx) string {
	return string(t.Bytes(c))
}

// Parent returns the parent of c, Null for roots and stale handles.
func (t *Tree) Parent(c Ctx) Ctx {
	index, err := t.resolve(c)
	if err != nil {
		return Null
	}
	return t.ctxOf(t.nodes[index].parent)
}

// Children returns the children of c in creation order; Children(Null) lists the roots.
func (t *Tree) Children(c Ctx) []Ctx {
	index, err := t.resolveParent(c)
	if err != nil {
		return nil
	}
	var result []Ctx
	for _, child := range t.nodes[index].children.Indices(t.siblings()) {
		if t.nodes[child].kind == kindReference {
			continue
		}
		result = append(result, t.ctxOf(child))
	}
	return result
}

// Steal moves c with its whole subtree under newParent.
func (t *Tree) Steal(newParent Ctx, c Ctx) (Ctx, error) {
	index, err := t.resolve(c)
	if err != nil {
		return Null, err
	}
	parent, err := t.resolveParent(newParent)
	if err != nil {
		return Null, err
	}
	if t.isAncestor(index, parent) {
		return Null, fmt.Errorf("%w: %s under %s", ErrCycle, c, newParent)
	}

	t.move(index, parent)
	return c, nil
}

// FindParentByName returns c or its closest ancestor named name.
func (t *Tree) FindParentByName(c Ctx, name string) (Ctx, bool) {
	index, err := t.resolve(c)
	if err != nil {
		return Null, false
	}
	for n := index; n != 0; n = t.nodes[n].parent {
		if t.nodes[n].name == name {
			return t.ctxOf(n), true
		}
	}
	return Null, false
}

// walk visits the subtree of root in pre-order without recursion.
// Returning false from fn skips the children of that node.
func (t *Tree) walk(root uint32, fn func(index uint32, depth int) bool) {
	type frame struct {
		index uint32
		depth int
	}
	stack := []frame{{index: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !fn(top.index, top.depth) {
			continue
		}
		children := &t.nodes[top.index].children
		for child := children.Back(); child != ilist.NullIndex; child = ilist.Prev(t.siblings(), child) {
			stack = append(stack, frame{index: child, depth: top.depth + 1})
		}
	}
}

// Walk calls fn for c and every descendant, parents before children.
// fn returning false skips the descendants of that context. fn must not mutate the tree.
func (t *Tree) Walk(c Ctx, fn func(c Ctx, depth int) bool) {
	index, err := t.resolveParent(c)
	if err != nil {
		return
	}
	t.walk(index, func(n uint32, depth int) bool {
		if t.nodes[n].kind == kindReference {
			return false
		}
		return fn(t.ctxOf(n), depth)
	})
}

func (t *Tree) totals(root uint32) (size uint64, blocks uint64) {
	t.walk(root, func(n uint32, _ int) bool {
		if n == 0 || t.nodes[n].kind == kindReference {
			return true
		}
		size += uint64(t.nodes[n].size)
		blocks++
		return true
	})
	return size, blocks
}

type subtotal struct {
	size   uint64
	blocks uint64
}

// subtotals computes the totals of every node under root in one pass,
// folding children into parents in reverse pre-order.
func (t *Tree) subtotals(root uint32) map[uint32]subtotal {
	var order []uint32
	t.walk(root, func(n uint32, _ int) bool {
		order = append(order, n)
		return true
	})

	sums := make(map[uint32]subtotal, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		s := sums[n]
		if n != 0 && t.nodes[n].kind != kindReference {
			s.size += uint64(t.nodes[n].size)
			s.blocks++
		}
		sums[n] = s
		if n != root {
			p := sums[t.nodes[n].parent]
			p.size += s.size
			p.blocks += s.blocks
			sums[t.nodes[n].parent] = p
		}
	}
	return sums
}

// TotalSize returns the summed size of c and its descendants.
func (t *Tree) TotalSize(c Ctx) int {
	index, err := t.resolveParent(c)
	if err != nil {
		return 0
	}
	size, _ := t.totals(index)
	return int(size)
}

// TotalBlocks returns the number of contexts in the subtree of c, c included.
func (t *Tree) TotalBlocks(c Ctx) int {
	index, err := t.resolveParent(c)
	if err != nil {
		return 0
	}
	_, blocks := t.totals(index)
	return int(blocks)
}
