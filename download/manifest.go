package download

import (
	"fmt"
	"strings"

	"veilnet.io/veilnet"
)

// Summarize renders a DownloadManifest as a human-readable result: one
// line when every file succeeded, otherwise that line followed by one
// indented line per failed file. Partial failure is always spelled out,
// never folded into a success line.
func Summarize(m veilnet.DownloadManifest) string {
	if len(m.Failed) == 0 {
		return fmt.Sprintf("%d file(s) recovered", len(m.Succeeded))
	}
	var reasons []string
	for _, f := range m.Failed {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.FileID, f.Reason))
	}
	return fmt.Sprintf("%d file(s) recovered, %d failed:\n  %s",
		len(m.Succeeded), len(m.Failed), strings.Join(reasons, "\n  "))
}
