// Package resource resolves bundled sidecar resources against the
// application's resource base directory.
package resource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no candidate path exists.
var ErrNotFound = errors.New("resource not found")

// Locator resolves relative candidates under a base directory.
type Locator struct {
	// Base is the bundled-resource base directory.
	Base string

	// Exists reports whether a path exists. Defaults to an os.Stat check.
	Exists func(path string) bool
}

// NewLocator creates a Locator rooted at base that checks the real filesystem.
func NewLocator(base string) *Locator {
	return &Locator{Base: base, Exists: PathExists}
}

// Locate returns the first candidate that exists once joined to Base.
// Candidates are slash-separated and tried in order.
func (l *Locator) Locate(candidates []string) (string, error) {
	exists := l.Exists
	if exists == nil {
		exists = PathExists
	}

	for _, candidate := range candidates {
		path := filepath.Join(l.Base, filepath.FromSlash(candidate))
		if exists(path) {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w under %s (tried %s)", ErrNotFound, l.Base, strings.Join(candidates, ", "))
}

// PathExists reports whether path exists on disk.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
