package action

import (
	"fmt"
	"regexp"
)

var tokenPattern = regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

// Interpolate substitutes {KEY} tokens in template with the corresponding
// context value. Absent or nil keys substitute the empty string.
func Interpolate(template string, ectx map[string]any) string {
	if template == "" {
		return template
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := ectx[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}
