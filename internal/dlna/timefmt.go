package dlna

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatTime renders seconds as zero-padded HH:MM:SS (integer-second
// precision), the REL_TIME unit AVTransport expects.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

// ParseTime parses H:MM:SS (or HH:MM:SS) into seconds. Returns 0 for
// empty or placeholder values such as "NOT_IMPLEMENTED".
func ParseTime(v string) float64 {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	// Some renderers report fractional seconds ("00:00:01.500").
	secPart := parts[2]
	if idx := strings.IndexByte(secPart, '.'); idx >= 0 {
		secPart = secPart[:idx]
	}
	s, err3 := strconv.Atoi(secPart)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return float64(h*3600 + m*60 + s)
}
