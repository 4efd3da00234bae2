package halloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTree(t *testing.T) {
	tr := newTestTree()
	assert.Equal(t, 1, len(tr.nodes))
	assert.Equal(t, nullName, tr.Name(Null))
	assert.Equal(t, uint32(1), tr.align)
	assert.Nil(t, tr.Children(Null))

	assert.Panics(t, func() {
		NewTree(Config{PoolAlignment: 3})
	})
}

func TestTree_Alloc(t *testing.T) {
	tr := newTestTree()

	root, err := tr.Alloc(Null, 16)
	require.NoError(t, err)
	assert.True(t, tr.IsValid(root))
	assert.Equal(t, 16, tr.Size(root))
	assert.Equal(t, 16, len(tr.Bytes(root)))
	assert.Equal(t, unnamed, tr.Name(root))
	assert.Equal(t, Null, tr.Parent(root))
	assert.Equal(t, []Ctx{root}, tr.Children(Null))

	a := mustAlloc(t, tr, root, 4, "a")
	b := mustAlloc(t, tr, root, 8, "b")
	assert.Equal(t, []Ctx{a, b}, tr.Children(root))
	assert.Equal(t, root, tr.Parent(a))
	assert.Equal(t, 28, tr.TotalSize(root))
	assert.Equal(t, 3, tr.TotalBlocks(root))
	assert.Equal(t, uint64(28), heapUsage(tr))

	_, err = tr.Alloc(root, -1)
	assert.True(t, errors.Is(err, ErrSizeOverflow))

	_, err = tr.Alloc(Ctx{index: 99, gen: 1}, 1)
	assert.True(t, errors.Is(err, ErrInvalidContext))
}

func TestTree_AllocZeroed_Strdup_NewContext(t *testing.T) {
	tr := newTestTree()

	c, err := tr.NewContext(Null)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Size(c))
	assert.Nil(t, tr.Bytes(c))

	z, err := tr.AllocZeroed(c, 12)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 12), tr.Bytes(z))

	s, err := tr.Strdup(c, "foo")
	require.NoError(t, err)
	assert.Equal(t, "foo", tr.String(s))
	assert.Equal(t, "foo", tr.Name(s))
	assert.Equal(t, 3, tr.Size(s))
}

type point struct {
	X int32
	Y int32
}

func TestAllocType(t *testing.T) {
	tr := newTestTree()

	c, err := AllocType[point](tr, Null)
	require.NoError(t, err)
	assert.Equal(t, 8, tr.Size(c))
	assert.Equal(t, "halloc.point", tr.Name(c))
}

func TestTree_SetName(t *testing.T) {
	tr := newTestTree()
	c := mustAlloc(t, tr, Null, 1, "x")

	require.NoError(t, tr.SetName(c, "test_list_%d", 3))
	assert.Equal(t, "test_list_3", tr.Name(c))

	require.NoError(t, tr.SetName(c, "plain name"))
	assert.Equal(t, "plain name", tr.Name(c))

	require.NoError(t, tr.Free(c))
	assert.True(t, errors.Is(tr.SetName(c, "y"), ErrInvalidContext))
	assert.Equal(t, "", tr.Name(c))
}

func TestTree_Value(t *testing.T) {
	tr := newTestTree()
	c := mustAlloc(t, tr, Null, 0, "holder")

	assert.Nil(t, tr.Value(c))
	require.NoError(t, tr.SetValue(c, []int{1, 2}))
	assert.Equal(t, []int{1, 2}, tr.Value(c))
}

func TestTree_Free_DestructorOrder(t *testing.T) {
	tr := newTestTree()
	rec := &recorder{tree: tr}

	p := mustAlloc(t, tr, Null, 1, "P")
	a := mustAlloc(t, tr, p, 1, "A")
	a1 := mustAlloc(t, tr, a, 1, "A1")
	b := mustAlloc(t, tr, p, 1, "B")
	for _, c := range []Ctx{p, a, a1, b} {
		rec.watch(c)
	}

	require.NoError(t, tr.Free(p))
	assert.Equal(t, []string{"B", "A1", "A", "P"}, rec.names)

	for _, c := range []Ctx{p, a, a1, b} {
		assert.False(t, tr.IsValid(c))
	}
	assert.Equal(t, 0, tr.TotalBlocks(Null))
	assert.Equal(t, uint64(0), heapUsage(tr))
}

func TestTree_Free_DestructorRunsOnce(t *testing.T) {
	tr := newTestTree()

	root := mustAlloc(t, tr, Null, 0, "root")
	mid := mustAlloc(t, tr, root, 0, "mid")
	leaf := mustAlloc(t, tr, mid, 10, "leaf")

	calls := 0
	require.NoError(t, tr.SetDestructor(leaf, DestructorFunc(func(c Ctx) error {
		calls++
		assert.Equal(t, leaf, c)
		return nil
	})))

	require.NoError(t, tr.Free(root))
	assert.Equal(t, 1, calls)

	_, found := tr.FindParentByName(leaf, "root")
	assert.False(t, found)
}

func TestTree_Free_Veto(t *testing.T) {
	tr := newTestTree()
	rec := &recorder{tree: tr}

	p := mustAlloc(t, tr, Null, 0, "P")
	a := mustAlloc(t, tr, p, 0, "A")
	b := mustAlloc(t, tr, p, 0, "B")
	c := mustAlloc(t, tr, p, 0, "C")
	rec.watch(a)
	rec.watch(c)

	vetoErr := errors.New("still in use")
	require.NoError(t, tr.SetDestructor(b, DestructorFunc(func(Ctx) error {
		return vetoErr
	})))

	err := tr.Free(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDestructorVeto))
	assert.True(t, errors.Is(err, vetoErr))

	var veto *VetoError
	require.True(t, errors.As(err, &veto))
	assert.Equal(t, b, veto.Ctx)
	assert.Equal(t, "B", veto.Name)

	assert.Equal(t, []string{"C"}, rec.names)
	assert.False(t, tr.IsValid(c))
	assert.True(t, tr.IsValid(p))
	assert.True(t, tr.IsValid(a))
	assert.True(t, tr.IsValid(b))
	assert.Equal(t, []Ctx{a, b}, tr.Children(p))

	// the veto keeps the destructor in place
	assert.True(t, errors.Is(tr.Free(b), ErrDestructorVeto))

	require.NoError(t, tr.SetDestructor(b, nil))
	require.NoError(t, tr.Free(p))
	assert.Equal(t, []string{"C", "A"}, rec.names)
}

func TestTree_Free_Twice_KeepsSiblings(t *testing.T) {
	tr := newTestTree()

	p := mustAlloc(t, tr, Null, 0, "P")
	a := mustAlloc(t, tr, p, 4, "A")
	b := mustAlloc(t, tr, p, 4, "B")

	require.NoError(t, tr.Free(a))
	assert.True(t, errors.Is(tr.Free(a), ErrInvalidContext))

	// the freed slot is reused with a new generation
	c := mustAlloc(t, tr, p, 4, "C")
	assert.Equal(t, a.index, c.index)
	assert.NotEqual(t, a, c)
	assert.True(t, errors.Is(tr.Free(a), ErrInvalidContext))

	assert.True(t, tr.IsValid(b))
	assert.Equal(t, "B", tr.Name(b))
	assert.Equal(t, []Ctx{b, c}, tr.Children(p))
}

func TestTree_Free_DeepTree(t *testing.T) {
	tr := newTestTree()

	root := mustAlloc(t, tr, Null, 1, "root")
	cur := root
	for i := 0; i < 100000; i++ {
		next, err := tr.Alloc(cur, 1)
		require.NoError(t, err)
		cur = next
	}
	assert.Equal(t, 100001, tr.TotalBlocks(root))

	require.NoError(t, tr.Free(root))
	assert.False(t, tr.IsValid(cur))
	assert.Equal(t, 0, tr.TotalBlocks(Null))
	assert.Equal(t, uint64(0), heapUsage(tr))
}

func TestTree_FreeChildren(t *testing.T) {
	tr := newTestTree()

	p := mustAlloc(t, tr, Null, 0, "P")
	mustAlloc(t, tr, p, 4, "A")
	b := mustAlloc(t, tr, p, 4, "B")
	mustAlloc(t, tr, b, 4, "B1")

	require.NoError(t, tr.FreeChildren(p))
	assert.True(t, tr.IsValid(p))
	assert.Nil(t, tr.Children(p))
	assert.Equal(t, uint64(0), heapUsage(tr))
}

func TestTree_Steal_PreservesSubtree(t *testing.T) {
	tr := newTestTree()

	src := mustAlloc(t, tr, Null, 0, "src")
	dst := mustAlloc(t, tr, Null, 0, "dst")
	other := mustAlloc(t, tr, src, 1, "other")
	x := mustAlloc(t, tr, src, 10, "x")
	x1 := mustAlloc(t, tr, x, 20, "x1")
	x2 := mustAlloc(t, tr, x, 30, "x2")
	x21 := mustAlloc(t, tr, x2, 40, "x21")

	stolen, err := tr.Steal(dst, x)
	require.NoError(t, err)
	assert.Equal(t, x, stolen)

	assert.Equal(t, []Ctx{other}, tr.Children(src))
	assert.Equal(t, []Ctx{x}, tr.Children(dst))
	assert.Equal(t, dst, tr.Parent(x))
	assert.Equal(t, 4, tr.TotalBlocks(x))
	assert.Equal(t, 100, tr.TotalSize(x))

	for c, name := range map[Ctx]string{x1: "x1", x2: "x2", x21: "x21"} {
		assert.True(t, tr.IsValid(c))
		assert.Equal(t, name, tr.Name(c))
	}
	assert.Equal(t, 40, tr.Size(x21))

	require.NoError(t, tr.Free(src))
	assert.True(t, tr.IsValid(x21))
	require.NoError(t, tr.Free(dst))
	assert.False(t, tr.IsValid(x21))
}

func TestTree_Steal_Cycle(t *testing.T) {
	tr := newTestTree()

	x := mustAlloc(t, tr, Null, 0, "x")
	child := mustAlloc(t, tr, x, 0, "child")
	grandchild := mustAlloc(t, tr, child, 0, "grandchild")

	_, err := tr.Steal(x, x)
	assert.True(t, errors.Is(err, ErrCycle))

	_, err = tr.Steal(grandchild, x)
	assert.True(t, errors.Is(err, ErrCycle))
	assert.Equal(t, x, tr.Parent(child))
	assert.Equal(t, Null, tr.Parent(x))

	_, err = tr.Steal(Null, child)
	require.NoError(t, err)
	assert.Equal(t, Null, tr.Parent(child))
	assert.Equal(t, []Ctx{x, child}, tr.Children(Null))

	_, err = tr.Steal(grandchild, x)
	require.NoError(t, err)
	assert.Equal(t, grandchild, tr.Parent(x))
}

func TestTree_FindParentByName(t *testing.T) {
	tr := newTestTree()

	a := mustAlloc(t, tr, Null, 0, "a")
	b := mustAlloc(t, tr, a, 0, "b")
	c := mustAlloc(t, tr, b, 0, "c")

	found, ok := tr.FindParentByName(c, "a")
	assert.True(t, ok)
	assert.Equal(t, a, found)

	found, ok = tr.FindParentByName(c, "c")
	assert.True(t, ok)
	assert.Equal(t, c, found)

	_, ok = tr.FindParentByName(c, "zz")
	assert.False(t, ok)

	_, ok = tr.FindParentByName(b, "c")
	assert.False(t, ok)
}

func TestTree_Walk(t *testing.T) {
	tr := newTestTree()

	a := mustAlloc(t, tr, Null, 0, "a")
	b := mustAlloc(t, tr, a, 0, "b")
	mustAlloc(t, tr, b, 0, "b1")
	mustAlloc(t, tr, a, 0, "c")
	_, err := tr.Reference(a, b)
	require.NoError(t, err)

	var visited []string
	var depths []int
	tr.Walk(a, func(c Ctx, depth int) bool {
		visited = append(visited, tr.Name(c))
		depths = append(depths, depth)
		return true
	})
	assert.Equal(t, []string{"a", "b", "b1", "c"}, visited)
	assert.Equal(t, []int{0, 1, 2, 1}, depths)

	visited = nil
	tr.Walk(a, func(c Ctx, depth int) bool {
		visited = append(visited, tr.Name(c))
		return tr.Name(c) != "b"
	})
	assert.Equal(t, []string{"a", "b", "c"}, visited)
}

func TestTree_OutOfMemory(t *testing.T) {
	tr := newLimitedTree(100)

	a, err := tr.Alloc(Null, 60)
	require.NoError(t, err)

	_, err = tr.Alloc(Null, 50)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, 1, tr.TotalBlocks(Null))

	require.NoError(t, tr.Free(a))
	_, err = tr.Alloc(Null, 50)
	require.NoError(t, err)
}

func TestTree_Realloc(t *testing.T) {
	tr := newTestTree()

	c, err := tr.Strdup(Null, "abcd")
	require.NoError(t, err)

	require.NoError(t, tr.Realloc(c, 8))
	assert.Equal(t, 8, tr.Size(c))
	assert.Equal(t, "abcd", string(tr.Bytes(c)[:4]))
	assert.Equal(t, uint64(8), heapUsage(tr))

	require.NoError(t, tr.Realloc(c, 2))
	assert.Equal(t, "ab", tr.String(c))

	require.NoError(t, tr.Realloc(c, 0))
	assert.Nil(t, tr.Bytes(c))
	assert.Equal(t, uint64(0), heapUsage(tr))

	assert.True(t, errors.Is(tr.Realloc(c, -5), ErrSizeOverflow))
}

func TestTree_Free_DestructorAllocatesChild(t *testing.T) {
	tr := newTestTree()
	rec := &recorder{tree: tr}

	x := mustAlloc(t, tr, Null, 8, "x")
	var child Ctx
	require.NoError(t, tr.SetDestructor(x, DestructorFunc(func(c Ctx) error {
		var err error
		child, err = tr.Alloc(c, 4)
		if err != nil {
			return err
		}
		_ = tr.SetName(child, "late child")
		rec.watch(child)
		return nil
	})))

	require.NoError(t, tr.Free(x))
	assert.Equal(t, []string{"late child"}, rec.names)
	assert.False(t, tr.IsValid(x))
	assert.False(t, tr.IsValid(child))
	assert.Equal(t, 0, tr.TotalBlocks(Null))
	assert.Equal(t, uint64(0), heapUsage(tr))

	// the reused slot has no stray children
	y := mustAlloc(t, tr, Null, 1, "y")
	assert.Equal(t, x.index, y.index)
	assert.Nil(t, tr.Children(y))
}

func TestTree_Free_DestructorAllocatesInsideSubtree(t *testing.T) {
	tr := newTestTree()

	p := mustAlloc(t, tr, Null, 0, "p")
	a := mustAlloc(t, tr, p, 4, "a")
	mustAlloc(t, tr, p, 4, "b")
	calls := 0
	require.NoError(t, tr.SetDestructor(a, DestructorFunc(func(c Ctx) error {
		calls++
		_, err := tr.Alloc(c, 4)
		return err
	})))

	require.NoError(t, tr.Free(p))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, tr.TotalBlocks(Null))
	assert.Equal(t, uint64(0), heapUsage(tr))
}

func TestTree_Free_DestructorTakesReference(t *testing.T) {
	tr := newTestTree()

	target := mustAlloc(t, tr, Null, 4, "target")
	x := mustAlloc(t, tr, Null, 0, "x")
	require.NoError(t, tr.SetDestructor(x, DestructorFunc(func(c Ctx) error {
		_, err := tr.Reference(c, target)
		return err
	})))

	require.NoError(t, tr.Free(x))
	assert.Equal(t, 0, tr.ReferenceCount(target))
	require.NoError(t, tr.Free(target))
	assert.Equal(t, 0, tr.TotalBlocks(Null))
	assert.Equal(t, len(tr.nodes)-1, len(tr.freeIndices))
}
