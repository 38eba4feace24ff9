package resource

import (
	"os"
	"path/filepath"
)

// OverrideEnv is the environment variable naming a trusted runtime binary.
const OverrideEnv = "TAURI_NODE_BIN"

// TrustedOverride reads the named variable through lookup and returns its
// value only if it is an absolute path that exists. An unset, empty,
// relative or missing path yields ok == false.
func TrustedOverride(lookup func(string) (string, bool), exists func(string) bool, name string) (path string, ok bool) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if exists == nil {
		exists = PathExists
	}

	raw, set := lookup(name)
	if !set || raw == "" {
		return "", false
	}
	if !filepath.IsAbs(raw) || !exists(raw) {
		return "", false
	}
	return raw, true
}
