package halloc

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/QuangTung97/halloc/allocator"
)

func newTestTree() *Tree {
	return NewTree(Config{Reporter: NewLeakReporter(io.Discard)})
}

func newLimitedTree(limit uint64) *Tree {
	return NewTree(Config{
		Heap:     allocator.NewGoHeap(limit),
		Reporter: NewLeakReporter(io.Discard),
	})
}

func newLoggedTree(buf *bytes.Buffer) *Tree {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewTree(Config{
		Logger:   logger,
		Reporter: NewLeakReporter(io.Discard),
	})
}

func mustAlloc(t *testing.T, tr *Tree, parent Ctx, size int, name string) Ctx {
	t.Helper()
	c, err := tr.Alloc(parent, size)
	require.NoError(t, err)
	require.NoError(t, tr.SetName(c, "%s", name))
	return c
}

// recorder collects the names of destroyed contexts in order.
type recorder struct {
	tree  *Tree
	names []string
}

func (r *recorder) watch(c Ctx) {
	_ = r.tree.SetDestructor(c, DestructorFunc(func(c Ctx) error {
		r.names = append(r.names, r.tree.Name(c))
		return nil
	}))
}

func heapUsage(tr *Tree) uint64 {
	return tr.Heap().GetMemUsage()
}
