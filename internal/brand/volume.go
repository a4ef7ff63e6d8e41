package brand

import (
	"regexp"
	"strings"
)

var volumePattern = regexp.MustCompile(`(?i)(?:^|[^0-9.,])(\d+(?:[.,]\d+)?)\s?(ml|cl|l|oz)\b`)

// ParseVolume returns the first container size found in cleaned text,
// normalized like "500ml", "1.5l" or "12oz". It returns "" when none is
// printed.
func ParseVolume(cleaned string) string {
	m := volumePattern.FindStringSubmatch(cleaned)
	if m == nil {
		return ""
	}
	amount := strings.ReplaceAll(m[1], ",", ".")
	return amount + strings.ToLower(m[2])
}
