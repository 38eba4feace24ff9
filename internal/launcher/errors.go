package launcher

import (
	"errors"
	"fmt"
)

// ErrSidecarDirNotFound is returned when no sidecar resource directory exists.
var ErrSidecarDirNotFound = errors.New("failed to resolve sidecar resources directory")

// MissingEntryScriptError reports a sidecar directory without its entry
// script. It is a packaging problem, not a runtime fault.
type MissingEntryScriptError struct {
	Path string
}

func (e *MissingEntryScriptError) Error() string {
	return fmt.Sprintf("missing sidecar entry script at %s; run the prepare step before packaging", e.Path)
}

// SpawnError wraps an OS failure to create the sidecar process.
type SpawnError struct {
	Runtime string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start sidecar: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
