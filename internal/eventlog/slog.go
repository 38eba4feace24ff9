package eventlog

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// SlogEventLog writes entries as slog records.
type SlogEventLog struct {
	logger *slog.Logger
}

var _ EventLog = (*SlogEventLog)(nil)

// NewSlog returns an event log backed by logger, or slog.Default() if nil.
func NewSlog(logger *slog.Logger) *SlogEventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEventLog{logger: logger}
}

func (l *SlogEventLog) Write(message string, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, strings.ToLower(k), fields[k])
	}

	level := slog.LevelInfo
	if fields[FieldFD] == "2" || fields[FieldEvent] == EventNotReady {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, message, args...)
	return nil
}

func (l *SlogEventLog) Close() error { return nil }
