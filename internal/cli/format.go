package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fpang/grok-image-edit/internal/edit"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// PrintResult writes the attempt log and deliveries of res. Local files that
// were not retained are listed as removed.
func PrintResult(w io.Writer, res *edit.Result, retained bool) {
	fmt.Fprintf(w, "Task %s finished in %s\n", res.TaskID, FormatDurationShort(res.Elapsed))
	for _, a := range res.Attempts {
		status := "ok"
		if !a.Success {
			status = string(a.Kind)
		}
		fmt.Fprintf(w, "  attempt %d (%s): %s in %s\n", a.Index, a.Variant, status, a.Elapsed.Round(time.Millisecond))
	}
	for _, d := range res.Deliveries {
		if d.Kind == edit.DeliveryLocal && !retained {
			fmt.Fprintf(w, "  image %d [%s] %s (removed, rerun with --keep)\n", d.Seq, d.Kind, d.Ref)
			continue
		}
		fmt.Fprintf(w, "  image %d [%s] %s\n", d.Seq, d.Kind, d.Ref)
	}
}
