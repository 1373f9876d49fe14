package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type checkState int

const (
	stateInfo checkState = iota
	stateOK
	stateFail
)

var checkStateStyle = map[checkState]struct {
	label string
	color text.Colors
}{
	stateInfo: {"INFO", text.Colors{text.FgBlue}},
	stateOK:   {"OK", text.Colors{text.FgGreen}},
	stateFail: {"FAIL", text.Colors{text.FgRed}},
}

// report accumulates doctor output as titled sections of labelled lines.
type report struct {
	color bool
	lines []string
}

func newReport(w io.Writer) *report {
	return &report{color: isTerminal(w)}
}

func (r *report) section(title string) {
	if len(r.lines) > 0 {
		r.lines = append(r.lines, "")
	}
	heading := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(heading))
	if r.color {
		heading, rule = text.FgBlue.Sprint(heading), text.FgBlue.Sprint(rule)
	}
	r.lines = append(r.lines, heading, rule)
}

func (r *report) line(label string, state checkState, detail string) {
	style := checkStateStyle[state]
	line := fmt.Sprintf("  %-18s [%s]", label+":", style.label)
	if detail != "" {
		line += " " + detail
	}
	if r.color {
		line = style.color.Sprint(line)
	}
	r.lines = append(r.lines, line)
}

func (r *report) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintln(w, strings.Join(r.lines, "\n"))
	return int64(n), err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
