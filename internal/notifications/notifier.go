package notifications

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"tafkit/internal/config"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single user-facing message.
type Notification struct {
	Level   Level
	Title   string
	Message string
}

// Notifier is the notification surface used by the workflow components.
type Notifier interface {
	// Notify shows a one-shot notification.
	Notify(ctx context.Context, n Notification) error
	// Progress shows or replaces the in-place message identified by key.
	Progress(ctx context.Context, key, title, message string) error
	// Done dismisses the in-place message identified by key.
	Done(ctx context.Context, key string) error
}

// NewFromConfig builds the notifier described by the [notifications] section.
// Console output goes to out (stderr when nil).
func NewFromConfig(cfg *config.Config, out io.Writer) Notifier {
	if cfg == nil {
		return NewNop()
	}
	var targets []Notifier
	if cfg.Notifications.Console {
		if out == nil {
			out = os.Stderr
		}
		targets = append(targets, NewConsole(out))
	}
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		targets = append(targets, NewNtfy(topic, timeout))
	}
	switch len(targets) {
	case 0:
		return NewNop()
	case 1:
		return targets[0]
	default:
		return Multi(targets...)
	}
}

// Info, Success, Warning and Error are shorthands for one-shot notifications.
func Info(ctx context.Context, n Notifier, title, message string) error {
	return send(ctx, n, LevelInfo, title, message)
}

func Success(ctx context.Context, n Notifier, title, message string) error {
	return send(ctx, n, LevelSuccess, title, message)
}

func Warning(ctx context.Context, n Notifier, title, message string) error {
	return send(ctx, n, LevelWarning, title, message)
}

func Error(ctx context.Context, n Notifier, title, message string) error {
	return send(ctx, n, LevelError, title, message)
}

func send(ctx context.Context, n Notifier, level Level, title, message string) error {
	if n == nil {
		return nil
	}
	return n.Notify(ctx, Notification{Level: level, Title: title, Message: message})
}

type multi []Notifier

// Multi fans out to every notifier and joins their errors.
func Multi(notifiers ...Notifier) Notifier {
	out := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, target := range m {
		errs = append(errs, target.Notify(ctx, n))
	}
	return errors.Join(errs...)
}

func (m multi) Progress(ctx context.Context, key, title, message string) error {
	var errs []error
	for _, target := range m {
		errs = append(errs, target.Progress(ctx, key, title, message))
	}
	return errors.Join(errs...)
}

func (m multi) Done(ctx context.Context, key string) error {
	var errs []error
	for _, target := range m {
		errs = append(errs, target.Done(ctx, key))
	}
	return errors.Join(errs...)
}

type nop struct{}

// NewNop returns a notifier that discards everything.
func NewNop() Notifier { return nop{} }

func (nop) Notify(context.Context, Notification) error             { return nil }
func (nop) Progress(context.Context, string, string, string) error { return nil }
func (nop) Done(context.Context, string) error                     { return nil }
