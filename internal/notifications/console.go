package notifications

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

const clearLine = "\r\033[K"

// Console prints notifications to a terminal or log-like writer.
type Console struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	activeKey   string
	activeLine  string
}

// NewConsole writes to out. In-place progress rewriting is enabled only when
// out is a terminal.
func NewConsole(out io.Writer) *Console {
	interactive := false
	if f, ok := out.(*os.File); ok {
		fd := f.Fd()
		interactive = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return &Console{out: out, interactive: interactive}
}

// NewConsoleWithMode is NewConsole with explicit TTY behaviour.
func NewConsoleWithMode(out io.Writer, interactive bool) *Console {
	return &Console{out: out, interactive: interactive}
}

func (c *Console) Notify(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := formatLine(symbol(n.Level), n.Title, n.Message)
	if c.interactive && c.activeKey != "" {
		_, err := fmt.Fprintf(c.out, "%s%s\n%s", clearLine, line, c.activeLine)
		return err
	}
	_, err := fmt.Fprintln(c.out, line)
	return err
}

func (c *Console) Progress(_ context.Context, key, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := formatLine("…", title, message)
	if !c.interactive {
		c.activeKey = key
		_, err := fmt.Fprintln(c.out, line)
		return err
	}
	if c.activeKey != "" && c.activeKey != key {
		if _, err := io.WriteString(c.out, "\n"); err != nil {
			return err
		}
	}
	c.activeKey = key
	c.activeLine = line
	_, err := fmt.Fprintf(c.out, "%s%s", clearLine, line)
	return err
}

func (c *Console) Done(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeKey != key {
		return nil
	}
	c.activeKey = ""
	c.activeLine = ""
	if !c.interactive {
		return nil
	}
	_, err := io.WriteString(c.out, clearLine)
	return err
}

func symbol(level Level) string {
	switch level {
	case LevelSuccess:
		return "✔"
	case LevelWarning:
		return "!"
	case LevelError:
		return "✖"
	default:
		return "•"
	}
}

func formatLine(prefix, title, message string) string {
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	switch {
	case title == "":
		return prefix + " " + message
	case message == "":
		return prefix + " " + title
	default:
		return prefix + " " + title + ": " + message
	}
}
