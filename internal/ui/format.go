package ui

import (
	"fmt"
	"strings"
)

// FormatPaths formats a slice of paths as an indented bullet list.
func FormatPaths(paths []string) string {
	var b strings.Builder
	b.WriteString("\n")
	for _, p := range paths {
		b.WriteString("    - ")
		b.WriteString(Path.Sprint(p))
		b.WriteString("\n")
	}
	return b.String()
}

// GroupFingerprint splits a fingerprint into blocks of four characters,
// the way gpg prints them.
func GroupFingerprint(fpr string) string {
	fpr = strings.ToUpper(strings.ReplaceAll(fpr, " ", ""))
	var blocks []string
	for len(fpr) > 4 {
		blocks = append(blocks, fpr[:4])
		fpr = fpr[4:]
	}
	if fpr != "" {
		blocks = append(blocks, fpr)
	}
	return strings.Join(blocks, " ")
}

// FormatSize renders a byte count using binary units.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatPercent renders a fraction in [0,1] as a whole percentage.
func FormatPercent(fraction float64) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return fmt.Sprintf("%3d%%", int(fraction*100))
}
