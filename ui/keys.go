package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// KeyEsc is the rune StartKeyEvents emits for the escape key.
const KeyEsc rune = 27

// Singleton buffered channel and one reader goroutine to avoid multiple opens
// and to make DrainKeys non-blocking.
var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a channel that emits single-key runes read without
// Enter. Arrow keys are reported as the navigation letters: right 'N', left
// 'P'. If opening the keyboard fails, an inert buffered channel is returned
// (it will not emit keys).
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				r, ok := translateKey(char, key)
				if !ok {
					continue
				}
				// Drop events when nobody is consuming.
				select {
				case keyCh <- r:
				default:
				}
			}
		}()
	})
	return keyCh
}

func translateKey(char rune, key keyboard.Key) (rune, bool) {
	switch key {
	case 0:
		return char, true
	case keyboard.KeyEsc, keyboard.KeyCtrlC:
		return KeyEsc, true
	case keyboard.KeyArrowRight:
		return 'N', true
	case keyboard.KeyArrowLeft:
		return 'P', true
	case keyboard.KeySpace:
		return ' ', true
	}
	return 0, false
}

// DrainKeys consumes any immediately available keys to avoid accidental triggers.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
