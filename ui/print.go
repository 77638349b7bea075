package ui

import (
	"fmt"
	"sync"
)

var printMu sync.Mutex

// PrintScreenLine prints a dark blue header line for a wizard screen.
func PrintScreenLine(screen int, key string) {
	printMu.Lock()
	defer printMu.Unlock()
	if key == "" {
		key = "-"
	}
	fmt.Printf("\r\n\033[34m[SCREEN %02d] %s\033[0m\n", screen, key)
}

// PrintDisplayLine prints a single in-place (carriage-return) line with the
// text currently shown for key. Placeholders are purple, values light blue.
func PrintDisplayLine(key, text string, placeholder bool) {
	printMu.Lock()
	defer printMu.Unlock()
	color := "\033[96m"
	if placeholder {
		color = "\033[95m"
	}
	fmt.Printf("\r%s[%-13s] %-24s\033[0m", color, key, text)
}
