// Package uniquedir implements the unique-directory allocator external
// collaborator of spec.md §6: it creates a freshly named, empty
// subdirectory under a parent directory and returns its path.
package uniquedir

import "os"

const prefix = "rrdp-"

// Create allocates a fresh, uniquely named, empty subdirectory under
// parent. os.MkdirTemp already guarantees the uniqueness and atomicity a
// hand-rolled allocator would have to reimplement, so there is nothing
// domain-specific to add here.
func Create(parent string) (string, error) {
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", err
	}
	return os.MkdirTemp(parent, prefix)
}
