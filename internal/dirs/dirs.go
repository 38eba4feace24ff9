// Package dirs provides standard directory resolution for sidecar-shell.
// It finds the bundled-resource base directory for the layouts the desktop
// packager produces on each platform.
package dirs

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used for system-wide installs.
const AppName = "sidecar-shell"

// ResourceDir returns the directory bundled resources are resolved against.
// Priority: $SIDECAR_RESOURCE_DIR > first existing platform candidate > executable dir
func ResourceDir() string {
	if v := os.Getenv("SIDECAR_RESOURCE_DIR"); v != "" {
		return v
	}

	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	for _, dir := range ResourceCandidates(exe, runtime.GOOS) {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}

	return filepath.Dir(exe)
}

// ResourceCandidates lists resource base directories for an executable path
// in priority order.
func ResourceCandidates(exe, goos string) []string {
	bin := filepath.Dir(exe)

	switch goos {
	case "darwin":
		// Foo.app/Contents/MacOS/foo -> Foo.app/Contents/Resources
		return []string{
			filepath.Join(bin, "..", "Resources"),
			bin,
		}
	case "windows":
		return []string{bin}
	default:
		// /usr/bin/foo -> /usr/lib/foo, plus AppImage/tarball layouts that
		// keep resources next to the binary.
		return []string{
			filepath.Join(bin, "..", "lib", AppName),
			bin,
		}
	}
}
