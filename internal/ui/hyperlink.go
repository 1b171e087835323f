// internal/ui/hyperlink.go
package ui

import "fmt"

// Hyperlink wraps text in an OSC 8 escape so supporting terminals open url on click.
// Other terminals show text unchanged.
func Hyperlink(url, text string) string {
	return fmt.Sprintf("\x1b]8;;%s\x07%s\x1b]8;;\x07", url, text)
}

// HyperlinkSelf links url to itself; used for rendered artifact URLs.
func HyperlinkSelf(url string) string {
	return Hyperlink(url, url)
}
