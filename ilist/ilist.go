// Package ilist implements an intrusive doubly linked list over uint32 indices.
// The link fields live inside the caller's own records, reached through an Accessor,
// so moving an element between lists never allocates.
package ilist

import "math"

// NullIndex marks the end of a list.
const NullIndex uint32 = math.MaxUint32

// Links is embedded in every record that can be on a list.
type Links struct {
	next uint32
	prev uint32
}

// NewLinks returns links that are not on any list.
func NewLinks() Links {
	return Links{next: NullIndex, prev: NullIndex}
}

// Accessor ...
type Accessor interface {
	Links(index uint32) *Links
}

// List ...
type List struct {
	head uint32
	tail uint32
	size uint32
}

// New ...
func New() List {
	return List{head: NullIndex, tail: NullIndex}
}

// Size ...
func (l *List) Size() uint32 {
	return l.size
}

// Front ...
func (l *List) Front() uint32 {
	return l.head
}

// Back ...
func (l *List) Back() uint32 {
	return l.tail
}

// Next returns the element after index, NullIndex at the end.
func Next(acc Accessor, index uint32) uint32 {
	return acc.Links(index).next
}

// Prev returns the element before index, NullIndex at the front.
func Prev(acc Accessor, index uint32) uint32 {
	return acc.Links(index).prev
}

// Indices returns the elements from front to back.
func (l *List) Indices(acc Accessor) []uint32 {
	var result []uint32
	for n := l.head; n != NullIndex; n = acc.Links(n).next {
		result = append(result, n)
	}
	return result
}

// PushBack ...
func (l *List) PushBack(acc Accessor, index uint32) {
	links := acc.Links(index)
	if l.tail != NullIndex {
		acc.Links(l.tail).next = index
	} else {
		l.head = index
	}
	links.prev = l.tail
	links.next = NullIndex
	l.tail = index
	l.size++
}

// Remove unlinks index, which must be on l.
func (l *List) Remove(acc Accessor, index uint32) {
	links := acc.Links(index)

	if links.next != NullIndex {
		acc.Links(links.next).prev = links.prev
	} else {
		l.tail = links.prev
	}

	if links.prev != NullIndex {
		acc.Links(links.prev).next = links.next
	} else {
		l.head = links.next
	}

	links.next = NullIndex
	links.prev = NullIndex
	l.size--
}
