package runner

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

var rePct = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)

// toolPercent extracts the last percentage printed on a tool progress line.
func toolPercent(line string) (string, bool) {
	m := rePct.FindAllStringSubmatch(line, -1)
	if len(m) == 0 {
		return "", false
	}
	return m[len(m)-1][1] + "%", true
}

// estimateETA projects the remaining time from the completion rate so far.
func estimateETA(completedThisRun, remaining int, elapsed time.Duration) string {
	if remaining <= 0 {
		return "0m"
	}
	if completedThisRun <= 0 || elapsed <= 0 {
		return ""
	}
	perItem := elapsed.Seconds() / float64(completedThisRun)
	return formatETASeconds(perItem * float64(remaining))
}

func formatETASeconds(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	secs := int64(math.Round(seconds))
	if secs < 60 {
		return "<1m"
	}
	minutes := secs / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	remMinutes := minutes % 60
	if hours < 24 {
		if remMinutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, remMinutes)
	}
	days := hours / 24
	remHours := hours % 24
	if remHours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, remHours)
}

func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
