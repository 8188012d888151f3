package countdown

import (
	"fmt"
	"math"
)

// FormatClock renders seconds as m:ss, e.g. 90 -> "1:30".
func FormatClock(seconds int) string {
	seconds = max(seconds, 0)
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// FormatHuman renders seconds the way rest presets are labelled:
// "45s", "2m", "2m 30s".
func FormatHuman(seconds int) string {
	seconds = max(seconds, 0)
	m, s := seconds/60, seconds%60
	switch {
	case m == 0:
		return fmt.Sprintf("%ds", s)
	case s == 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%dm %ds", m, s)
	}
}

// Percent converts a progress ratio to a whole percentage in [0, 100].
func Percent(progress float64) int {
	if math.IsNaN(progress) {
		return 0
	}
	return clamp(int(math.Round(progress*100)), 0, 100)
}
