package truenas

import (
	"strconv"
	"strings"
)

// GenerateName derives the name of the next certificate in a lineage from
// the current one. A trailing "_<number>" segment is incremented, any other
// name gets a fresh "_1" suffix: "ASD_4" -> "ASD_5", "ASD" -> "ASD_1",
// "A_B_9" -> "A_B_10".
func GenerateName(name string) string {
	parts := strings.Split(name, "_")
	last := parts[len(parts)-1]
	if isNumeric(last) {
		n, _ := strconv.Atoi(last)
		parts[len(parts)-1] = strconv.Itoa(n + 1)
		return strings.Join(parts, "_")
	}
	return name + "_1"
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
