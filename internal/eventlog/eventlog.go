package eventlog

import (
	"bytes"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"
)

// EventLog stores structured sidecar lifecycle and output entries.
// The default implementation is backed by systemd-journald, but callers only
// see domain concepts.
type EventLog interface {
	// Write sends a structured entry to the backing store.
	Write(message string, fields map[string]string) error

	// Close releases any resources.
	Close() error
}

// Lifecycle event constants.
const (
	EventLaunched = "launched"
	EventReady    = "ready"
	EventNotReady = "not-ready"
	EventKilled   = "killed"
)

// Event field names for sidecar events.
const (
	FieldEvent         = "SIDECAR_EVENT"
	FieldPID           = "SIDECAR_PID"
	FieldRuntime       = "SIDECAR_RUNTIME"
	FieldRuntimeSource = "SIDECAR_RUNTIME_SOURCE"
	FieldDir           = "SIDECAR_DIR"
	FieldAddress       = "SIDECAR_ADDRESS"
	FieldElapsed       = "SIDECAR_ELAPSED"
	FieldFD            = "FD"
)

// EmitLaunched writes a sidecar launched event to the log.
func EmitLaunched(log EventLog, pid int, runtime, source, dir string) error {
	return log.Write("Sidecar launched", map[string]string{
		FieldEvent:         EventLaunched,
		FieldPID:           strconv.Itoa(pid),
		FieldRuntime:       runtime,
		FieldRuntimeSource: source,
		FieldDir:           dir,
	})
}

// EmitReady writes a readiness event to the log.
func EmitReady(log EventLog, pid int, address string, elapsed time.Duration) error {
	return log.Write("Sidecar ready", map[string]string{
		FieldEvent:   EventReady,
		FieldPID:     strconv.Itoa(pid),
		FieldAddress: address,
		FieldElapsed: elapsed.String(),
	})
}

// EmitNotReady writes a readiness timeout event to the log.
func EmitNotReady(log EventLog, pid int, address string, elapsed time.Duration) error {
	return log.Write("Sidecar did not become ready", map[string]string{
		FieldEvent:   EventNotReady,
		FieldPID:     strconv.Itoa(pid),
		FieldAddress: address,
		FieldElapsed: elapsed.String(),
	})
}

// EmitKilled writes a sidecar killed event to the log.
func EmitKilled(log EventLog, pid int, reason string) error {
	return log.Write("Sidecar killed: "+reason, map[string]string{
		FieldEvent: EventKilled,
		FieldPID:   strconv.Itoa(pid),
	})
}

// WriteOutput writes process output to the log with FD and extra fields.
func WriteOutput(log EventLog, fd int, text string, extraFields map[string]string) error {
	fields := map[string]string{
		FieldFD: fmt.Sprintf("%d", fd),
	}
	maps.Copy(fields, extraFields)
	return log.Write(text, fields)
}

// OutputWriter turns a child's output stream into one entry per line.
type OutputWriter struct {
	log    EventLog
	fd     int
	fields map[string]string

	mu  sync.Mutex
	buf []byte
}

// NewOutputWriter returns a writer that logs complete lines written to it.
func NewOutputWriter(log EventLog, fd int, fields map[string]string) *OutputWriter {
	return &OutputWriter{log: log, fd: fd, fields: fields}
}

func (w *OutputWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf[:i], "\r"))
		w.buf = w.buf[i+1:]
		_ = WriteOutput(w.log, w.fd, line, w.fields)
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *OutputWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		_ = WriteOutput(w.log, w.fd, string(w.buf), w.fields)
		w.buf = nil
	}
}
