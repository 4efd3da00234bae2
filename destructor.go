package halloc

// Destructor is the teardown hook of a context. It runs once, right before the
// memory of the context is released. Returning an error vetoes the free.
//
// A destructor may read the tree and allocate. Contexts it attaches to the
// context being freed are freed right after it returns. It must not free or
// steal contexts of the subtree being freed.
type Destructor interface {
	Teardown(c Ctx) error
}

// DestructorFunc ...
type DestructorFunc func(c Ctx) error

// Teardown ...
func (f DestructorFunc) Teardown(c Ctx) error {
	return f(c)
}
