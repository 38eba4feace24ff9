package eventlog

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Kind selects an EventLog implementation.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindJournal Kind = "journal"
	KindStderr  Kind = "stderr"
)

// Open constructs the event log for kind. Auto picks journald when it is
// reachable and stderr is not an interactive terminal.
func Open(kind Kind, logger *slog.Logger) (EventLog, error) {
	switch kind {
	case "", KindAuto:
		if JournalAvailable() && !term.IsTerminal(int(os.Stderr.Fd())) {
			return NewJournal(), nil
		}
		return NewSlog(logger), nil
	case KindJournal:
		if !JournalAvailable() {
			return nil, fmt.Errorf("journald is not available")
		}
		return NewJournal(), nil
	case KindStderr:
		return NewSlog(logger), nil
	default:
		return nil, fmt.Errorf("unknown event log %q", kind)
	}
}
