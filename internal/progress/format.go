package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const barWidth = 20

// Clamp limits f to [0,1].
func Clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func Bar(fraction float64) string {
	filled := int(barWidth * Clamp(fraction))
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func Percent(fraction float64) string {
	return fmt.Sprintf("%.1f%%", Clamp(fraction)*100)
}

// TimeLeft estimates the remaining time from the elapsed wall clock and the
// completed fraction.
func TimeLeft(elapsed time.Duration, fraction float64) string {
	if fraction <= 0 {
		return "Calculating..."
	}
	total := elapsed.Seconds() / Clamp(fraction)
	left := total - elapsed.Seconds()
	if left < 0 {
		left = 0
	}
	if left < 60 {
		return fmt.Sprintf("%ds", int(left))
	}
	if left < 3600 {
		return fmt.Sprintf("%dm%ds", int(left)/60, int(left)%60)
	}
	return fmt.Sprintf("%dh%dm", int(left)/3600, (int(left)%3600)/60)
}

func Size(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

// Transfer renders the standard download/upload status block.
func Transfer(title, name string, done, total int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", title)
	if name != "" {
		fmt.Fprintf(&b, "`%s`\n", name)
	}
	if total > 0 {
		f := float64(done) / float64(total)
		fmt.Fprintf(&b, "%s `%s`\n", Bar(f), Percent(f))
		fmt.Fprintf(&b, "**Size:** `%s` / `%s`", Size(done), Size(total))
	} else {
		fmt.Fprintf(&b, "**Size:** `%s`", Size(done))
	}
	return b.String()
}
