// Package eventlog records sidecar lifecycle events and child output as
// structured entries.
//
// Entries carry SIDECAR_* fields so that, when written to journald, they can
// be queried with journalctl SIDECAR_EVENT=ready and similar matches.
package eventlog
