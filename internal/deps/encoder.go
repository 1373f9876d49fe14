package deps

import (
	"fmt"
	"slices"
	"strings"
)

// Placeholders every local encoder argument template must carry. {inputs}
// only expands when it is a whole argument.
var requiredEncoderPlaceholders = []string{"{output}", "{inputs}"}

// CheckEncoder reports whether the local encoder binary resolves and whether
// its argument template can ever produce an output file.
func CheckEncoder(binary string, args []string, optional bool) Status {
	status := Lookup("Local encoder", binary, optional)
	if !status.Available {
		return status
	}

	var missing []string
	for _, placeholder := range requiredEncoderPlaceholders {
		found := slices.ContainsFunc(args, func(arg string) bool {
			if placeholder == "{inputs}" {
				return strings.TrimSpace(arg) == placeholder
			}
			return strings.Contains(arg, placeholder)
		})
		if !found {
			missing = append(missing, placeholder)
		}
	}
	if len(missing) > 0 {
		status.Available = false
		status.Detail = fmt.Sprintf("argument template lacks %s", strings.Join(missing, ", "))
	}
	return status
}
