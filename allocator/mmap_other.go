//go:build !unix

package allocator

import "os"

// Without anonymous mappings the blocks come from the Go heap.
func osMapAnon(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func osUnmap(_ []byte) error {
	return nil
}

func pageSize() int {
	return os.Getpagesize()
}
