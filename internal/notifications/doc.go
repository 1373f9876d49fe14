// Package notifications delivers user-facing toasts for tafkit workflows.
//
// A Notifier accepts one-shot notifications (info, success, warning, error)
// and keyed progress messages that replace each other in place until Done is
// called for the key. The console notifier rewrites a single terminal line
// when attached to a TTY; the ntfy notifier publishes one-shot messages to the
// topic configured in config.toml. Multi fans out to several notifiers and
// NewNop discards everything.
package notifications
