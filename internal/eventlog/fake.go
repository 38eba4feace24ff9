package eventlog

import (
	"maps"
	"sync"
)

// Record is an entry captured by FakeEventLog.
type Record struct {
	Message string
	Fields  map[string]string
}

// FakeEventLog keeps entries in memory for tests.
type FakeEventLog struct {
	mu      sync.Mutex
	entries []Record
}

var _ EventLog = (*FakeEventLog)(nil)

func NewFake() *FakeEventLog {
	return &FakeEventLog{}
}

func (f *FakeEventLog) Write(message string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, Record{Message: message, Fields: maps.Clone(fields)})
	return nil
}

func (f *FakeEventLog) Close() error { return nil }

// Entries returns a copy of everything written so far.
func (f *FakeEventLog) Entries() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.entries...)
}

// Events returns the SIDECAR_EVENT values written so far, in order.
func (f *FakeEventLog) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		if ev := e.Fields[FieldEvent]; ev != "" {
			out = append(out, ev)
		}
	}
	return out
}
