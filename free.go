package halloc

import (
	"fmt"

	"github.com/QuangTung97/halloc/ilist"
)

// Free frees c and its whole subtree, children before parents.
//
// Free fails with ErrBusy when c is referenced from outside its subtree by anything
// other than its own parent. A descendant referenced from outside is rescued instead:
// it moves under the owner of that reference, which is dropped.
// A destructor error stops the walk and is returned as a *VetoError.
func (t *Tree) Free(c Ctx) error {
	index, err := t.resolve(c)
	if err != nil {
		return err
	}
	if owner := t.externalReferrer(index, index, true); owner != ilist.NullIndex {
		return fmt.Errorf("%w: %s (%q) is referenced by %q",
			ErrBusy, c, t.nodes[index].name, t.nodes[owner].name)
	}
	return t.teardown(index)
}

// FreeChildren frees every child of c, keeping c itself.
func (t *Tree) FreeChildren(c Ctx) error {
	index, err := t.resolve(c)
	if err != nil {
		return err
	}

	for {
		child := t.nodes[index].children.Back()
		if child == ilist.NullIndex {
			return nil
		}
		if t.nodes[child].kind == kindReference {
			t.destroyReference(child)
			continue
		}
		if owner := t.externalReferrer(child, child, true); owner != ilist.NullIndex {
			t.rescue(child, owner)
			continue
		}
		if err := t.teardown(child); err != nil {
			return err
		}
	}
}

// externalReferrer returns the owner of the first reference to index held from
// outside the subtree of root, or NullIndex. With skipParent a reference held by the
// parent of index does not count.
func (t *Tree) externalReferrer(index uint32, root uint32, skipParent bool) uint32 {
	n := &t.nodes[index]
	for ref := n.refs.Front(); ref != ilist.NullIndex; ref = ilist.Next(t.references(), ref) {
		owner := t.nodes[ref].parent
		if skipParent && owner == n.parent {
			continue
		}
		if !t.isAncestor(root, owner) {
			return owner
		}
	}
	return ilist.NullIndex
}

// rescue hands index over to owner, dropping one reference owner holds on it.
func (t *Tree) rescue(index uint32, owner uint32) {
	for ref := t.nodes[index].refs.Front(); ref != ilist.NullIndex; ref = ilist.Next(t.references(), ref) {
		if t.nodes[ref].parent == owner {
			t.destroyReference(ref)
			break
		}
	}
	t.move(index, owner)

	t.logger.Debug("referenced context moved to its referrer",
		"ctx", t.ctxOf(index).String(),
		"name", t.nodes[index].name,
		"owner", t.nodes[owner].name,
	)
}

// teardown frees the subtree of root depth-first without recursion: it always
// descends into the last child, and destroys a node once it has no children left.
// Children attached by a destructor are freed before the node itself.
func (t *Tree) teardown(root uint32) error {
	cur := root
	for {
		child := t.nodes[cur].children.Back()
		if child != ilist.NullIndex {
			if owner := t.externalReferrer(child, root, false); owner != ilist.NullIndex {
				t.rescue(child, owner)
				continue
			}
			cur = child
			continue
		}

		parent := t.nodes[cur].parent
		released, err := t.destroy(cur)
		if err != nil {
			return err
		}
		if !released {
			continue
		}
		if cur == root {
			return nil
		}
		cur = parent
	}
}

// destroy runs the destructor of a childless node and releases it.
// It returns false when the destructor attached children, which must go first.
func (t *Tree) destroy(index uint32) (bool, error) {
	if d := t.nodes[index].destructor; d != nil {
		t.nodes[index].destructor = nil
		if err := d.Teardown(t.ctxOf(index)); err != nil {
			t.nodes[index].destructor = d
			veto := &VetoError{Ctx: t.ctxOf(index), Name: t.nodes[index].name, Err: err}
			t.logger.Warn("destructor vetoed free",
				"ctx", veto.Ctx.String(),
				"name", veto.Name,
				"error", err,
			)
			return false, veto
		}
		if t.nodes[index].children.Back() != ilist.NullIndex {
			return false, nil
		}
	}

	for {
		ref := t.nodes[index].refs.Front()
		if ref == ilist.NullIndex {
			break
		}
		t.destroyReference(ref)
	}

	n := &t.nodes[index]
	if n.kind == kindReference {
		t.nodes[n.target].refs.Remove(t.references(), index)
	}
	t.nodes[n.parent].children.Remove(t.siblings(), index)

	if n.region != nil {
		n.region.close(t)
	} else if n.mem != nil {
		n.mem.release(t)
	}

	t.releaseNode(index)
	return true, nil
}

// destroyReference never fails: reference nodes carry no destructor and no children.
func (t *Tree) destroyReference(ref uint32) {
	if released, err := t.destroy(ref); err != nil || !released {
		panic("halloc: reference teardown failed")
	}
}
