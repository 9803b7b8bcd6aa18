// Package browser provides utilities for browser automation with Rod.
package browser

import (
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
)

// TypeFunc types text into an element. The two implementations trade
// realism against speed; the portal scraper picks one per session.
type TypeFunc func(el *rod.Element, text string) error

// TypeHuman types text into an element with human-like timing.
// It uses Element.Type() which properly triggers keyboard events
// (keydown/keyup). Small random delays (50-150ms) between keystrokes
// simulate human typing.
func TypeHuman(el *rod.Element, text string) error {
	for _, char := range text {
		if err := el.Type(input.Key(char)); err != nil {
			return err
		}
		// Small random delay to simulate human typing
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
	return nil
}

// TypeFast types text quickly without delays.
// Useful for tests and mock-portal runs where speed matters more than
// human simulation. Still triggers proper keyboard events for each
// character.
func TypeFast(el *rod.Element, text string) error {
	keys := make([]input.Key, len(text))
	for i, char := range text {
		keys[i] = input.Key(char)
	}
	return el.Type(keys...)
}

// Replace clears an element's current content and types new text in its
// place. Select-all before typing, so stale prefill never leaks into the
// submitted value.
func Replace(el *rod.Element, text string, typeFn TypeFunc) error {
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return typeFn(el, text)
}
