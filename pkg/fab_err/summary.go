// pkg/fab_err/summary.go

package fab_err

import "strings"

// failureMarkers pick the lines of tool output worth quoting in an error.
var failureMarkers = []string{"error", "failed", "cannot", "no such file", "permission denied", "fatal"}

// ExtractSummary condenses command output to at most maxCandidates lines
// that look like failures, joined with " - ". Without any, it returns the
// last non-empty line.
func ExtractSummary(output string, maxCandidates int) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return "No output provided."
	}

	var picked []string
	last := ""
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		last = line
		if len(picked) < maxCandidates && isFailureLine(line) {
			picked = append(picked, line)
		}
	}
	if len(picked) > 0 {
		return strings.Join(picked, " - ")
	}
	return last
}

func isFailureLine(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range failureMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
