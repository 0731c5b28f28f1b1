// Package flow implements the survey conversation engine: variable
// resolution, condition evaluation, memory compression, and the step
// transition logic that drives a templated interview turn by turn.
package flow

import (
	"regexp"
	"strings"
)

var variablePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// ResolveVariables replaces every {{key}} marker in text with its value from
// vars. Markers whose key has no value stay literal, so a second pass over
// already-resolved text is a no-op (as long as no value itself contains a
// marker).
func ResolveVariables(text string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	return variablePattern.ReplaceAllStringFunc(text, func(marker string) string {
		key := marker[2 : len(marker)-2]
		if value, ok := vars[key]; ok {
			return value
		}
		return marker
	})
}
