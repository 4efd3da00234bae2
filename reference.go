package halloc

import (
	"fmt"

	"github.com/QuangTung97/halloc/ilist"
)

// Reference makes owner an additional owner of target and returns target.
// The reference itself is a hidden child of owner, so freeing owner drops it.
func (t *Tree) Reference(owner Ctx, target Ctx) (Ctx, error) {
	return t.ReferenceAt(owner, target, "")
}

// ReferenceAt is Reference with a location tag telling apart several references
// from the same owner to the same target.
func (t *Tree) ReferenceAt(owner Ctx, target Ctx, location string) (Ctx, error) {
	o, err := t.resolveParent(owner)
	if err != nil {
		return Null, err
	}
	tg, err := t.resolve(target)
	if err != nil {
		return Null, err
	}

	ref := t.newNode(o, kindReference, 0, referenceName)
	t.nodes[ref].target = tg
	t.nodes[ref].location = location
	t.nodes[tg].refs.PushBack(t.references(), ref)
	return target, nil
}

// ReferenceCount returns the number of references to target, its parent link excluded.
func (t *Tree) ReferenceCount(target Ctx) int {
	index, err := t.resolve(target)
	if err != nil {
		return 0
	}
	return int(t.nodes[index].refs.Size())
}

// Unlink removes the reference owner holds on target, whatever its location.
//
// When owner holds no reference but is the parent of target, the parent link is
// removed instead: target is freed if nothing else references it, otherwise it
// moves under the owner of its first reference from outside its subtree, and that
// reference is dropped.
func (t *Tree) Unlink(owner Ctx, target Ctx) error {
	return t.unlink(owner, target, "", false)
}

// UnlinkAt is Unlink restricted to references made with the given location.
func (t *Tree) UnlinkAt(owner Ctx, target Ctx, location string) error {
	return t.unlink(owner, target, location, true)
}

func (t *Tree) unlink(owner Ctx, target Ctx, location string, byLocation bool) error {
	o, err := t.resolveParent(owner)
	if err != nil {
		return err
	}
	tg, err := t.resolve(target)
	if err != nil {
		return err
	}

	var matches []uint32
	for ref := t.nodes[tg].refs.Front(); ref != ilist.NullIndex; ref = ilist.Next(t.references(), ref) {
		n := &t.nodes[ref]
		if n.parent != o {
			continue
		}
		if byLocation && n.location != location {
			continue
		}
		matches = append(matches, ref)
	}

	switch {
	case len(matches) == 1:
		t.destroyReference(matches[0])
		return nil
	case len(matches) > 1:
		return fmt.Errorf("%w: %d references from %s to %s", ErrAmbiguousReference, len(matches), owner, target)
	case t.nodes[tg].parent != o:
		return fmt.Errorf("%w: no reference from %s to %s", ErrAmbiguousReference, owner, target)
	}

	heir := ilist.NullIndex
	for ref := t.nodes[tg].refs.Front(); ref != ilist.NullIndex; ref = ilist.Next(t.references(), ref) {
		if refOwner := t.nodes[ref].parent; !t.isAncestor(tg, refOwner) {
			heir = refOwner
			break
		}
	}
	if heir == ilist.NullIndex {
		return t.teardown(tg)
	}
	t.rescue(tg, heir)
	return nil
}
