package eventlog

import (
	"github.com/coreos/go-systemd/v22/journal"
)

// JournalEventLog sends entries to systemd-journald.
type JournalEventLog struct {
	priority journal.Priority
}

var _ EventLog = (*JournalEventLog)(nil)

// NewJournal returns an event log that writes to the local journald socket.
func NewJournal() *JournalEventLog {
	return &JournalEventLog{priority: journal.PriInfo}
}

// JournalAvailable reports whether journald is accepting entries.
func JournalAvailable() bool {
	return journal.Enabled()
}

// Write sends an entry to journald (fire-and-forget).
func (l *JournalEventLog) Write(message string, fields map[string]string) error {
	priority := l.priority
	if fields[FieldFD] == "2" || fields[FieldEvent] == EventNotReady {
		priority = journal.PriWarning
	}
	return journal.Send(message, priority, fields)
}

func (l *JournalEventLog) Close() error { return nil }
