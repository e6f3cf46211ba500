// Package notify provides filesystem change notifications for the watchers
// that tail log files.
//
// The Notifier API is safe for concurrent use and delivers best-effort
// notifications: callers should assume changes can be coalesced or dropped
// under load and treat each callback as a hint to re-read the file rather
// than as an exact record of writes.
package notify
