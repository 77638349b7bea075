package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Binding is one operator console command.
type Binding struct {
	Key  rune
	Help string
	Run  func()
}

// Console dispatches single key presses to bindings until ESC or ctx ends.
type Console struct {
	Bindings []Binding
	// Keys defaults to StartKeyEvents.
	Keys <-chan rune
}

// Help renders the key legend, e.g. "[N] next  [P] previous  <ESC> quit".
func (c *Console) Help() string {
	parts := make([]string, 0, len(c.Bindings)+1)
	bs := append([]Binding(nil), c.Bindings...)
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].Key < bs[j].Key })
	for _, b := range bs {
		parts = append(parts, fmt.Sprintf("[%c] %s", unicode.ToUpper(b.Key), b.Help))
	}
	parts = append(parts, "<ESC> quit")
	return strings.Join(parts, "  ")
}

// Run blocks until ESC is pressed, the key channel closes, or ctx is done.
// It returns true when the operator asked to quit.
func (c *Console) Run(ctx context.Context) bool {
	keys := c.Keys
	if keys == nil {
		DrainKeys()
		keys = StartKeyEvents()
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case k, ok := <-keys:
			if !ok {
				return false
			}
			if k == KeyEsc {
				return true
			}
			for _, b := range c.Bindings {
				if unicode.ToUpper(b.Key) == unicode.ToUpper(k) && b.Run != nil {
					b.Run()
					break
				}
			}
		}
	}
}
