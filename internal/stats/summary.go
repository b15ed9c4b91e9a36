package stats

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// WriteSummary prints the end-of-run summary in a human-readable layout.
func WriteSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                     go-worker-swarm Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(s.Duration))
	fmt.Fprintf(w, "Target Workers:         %d\n", s.TargetWorkers)
	fmt.Fprintf(w, "Peak Live Workers:      %d\n", s.PeakLive)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Lifecycle:")
	fmt.Fprintf(w, "  Total Starts:         %d\n", s.TotalStarts)
	fmt.Fprintf(w, "  Total Reaps:          %d\n", s.TotalReaps)
	fmt.Fprintf(w, "  Clean Exits:          %d\n", s.CleanExits)
	fmt.Fprintf(w, "  Error Exits:          %d\n", s.ErrorExits)
	fmt.Fprintln(w)

	if s.TotalReaps > 0 {
		fmt.Fprintln(w, "Uptime Distribution:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", formatDuration(s.UptimeP50))
		fmt.Fprintf(w, "  P95:                  %s\n", formatDuration(s.UptimeP95))
		fmt.Fprintf(w, "  P99:                  %s\n", formatDuration(s.UptimeP99))
		fmt.Fprintln(w)
	}

	if s.HeartbeatCount > 0 {
		fmt.Fprintln(w, "Heartbeats:")
		fmt.Fprintf(w, "  Total Received:       %d\n", s.HeartbeatCount)
		if s.HeartbeatGapP50 > 0 {
			fmt.Fprintf(w, "  Gap P50:              %s\n", s.HeartbeatGapP50.Round(time.Millisecond))
			fmt.Fprintf(w, "  Gap P99:              %s\n", s.HeartbeatGapP99.Round(time.Millisecond))
		}
		fmt.Fprintln(w)
	}

	if len(s.ExitCodes) > 0 {
		fmt.Fprintln(w, "Exit Codes:")
		codes := make([]int, 0, len(s.ExitCodes))
		for code := range s.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "  %4d %-16s %d\n", code, exitCodeLabel(code), s.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case -1:
		return "(unreaped)"
	case 131:
		return "(SIGQUIT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}
