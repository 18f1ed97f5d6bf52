package notify

import (
	"fmt"
	"time"
)

// HumanizeDuration formats an elapsed time as zero-padded units, the largest
// first. Durations under a second keep two decimals.
func HumanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}

	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	switch {
	case total < 60:
		return fmt.Sprintf("%02ds", seconds)
	case total < 3600:
		return fmt.Sprintf("%02dm%02ds", minutes, seconds)
	case total < 86400:
		return fmt.Sprintf("%02dh%02dm%02ds", hours, minutes, seconds)
	default:
		return fmt.Sprintf("%02dd%02dh%02dm%02ds", days, hours, minutes, seconds)
	}
}
