// Package ui provides semantic text formatting for CLI output.
//
// Formatters render with color when the terminal supports it and fall back
// to text decorations when NO_COLOR is set or the terminal is dumb:
//
//	ui.Code.Sprint("sett decrypt pkg.tar")  // `backticks`
//	ui.Path.Sprint("20240101T120000.tar")  // no decoration
//	ui.Highlight.Sprint("alice@example.org") // 'single quotes'
//	ui.Fingerprint.Sprint(fpr)              // <angle brackets>
//	ui.Muted.Sprint("unsigned")             // (parentheses)
//
// The package also carries the small formatting helpers used by commands:
// GroupFingerprint, FormatSize, FormatPercent and FormatPaths.
package ui
