package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Status reports whether an external binary tafkit can run is usable.
type Status struct {
	Name     string
	Command  string
	Optional bool
	// Available is set when Command resolved and passed every extra check.
	Available bool
	// Path is the resolved executable.
	Path   string
	Detail string
}

// Lookup resolves command on PATH. Optional only marks the status; a missing
// optional binary is still unavailable.
func Lookup(name, command string, optional bool) Status {
	status := Status{Name: name, Command: strings.TrimSpace(command), Optional: optional}
	if status.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	resolved, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		return status
	}
	status.Available = true
	status.Path = resolved
	return status
}
