// Package browser provides utilities for browser automation with Rod.
package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

var ErrNotFound = errors.New("no element matched target")

// Target describes a form control to resolve. Selector wins when set;
// Label is the fallback for portals that ship without stable ids.
type Target struct {
	Selector string
	Label    string
	Timeout  time.Duration
}

// resolveByLabelJS finds a label by trimmed text and resolves its control:
// explicit for-binding, then the nearest following sibling containing an
// input, then the nearest preceding one, then any descendant input of the
// label's parent. Runs in one page-side pass so rod can poll it until the
// form renders.
const resolveByLabelJS = `(labelText) => {
	const norm = (s) => (s || '').trim();
	const controlOf = (el) => {
		if (el.matches('input, textarea, select')) return el;
		return el.querySelector('input, textarea, select');
	};

	const label = Array.from(document.querySelectorAll('label'))
		.find((l) => norm(l.textContent) === labelText);
	if (!label) return null;

	if (label.htmlFor) {
		const bound = document.getElementById(label.htmlFor);
		if (bound) return bound;
	}

	for (let sib = label.nextElementSibling; sib; sib = sib.nextElementSibling) {
		const control = controlOf(sib);
		if (control) return control;
	}

	for (let sib = label.previousElementSibling; sib; sib = sib.previousElementSibling) {
		const control = controlOf(sib);
		if (control) return control;
	}

	if (label.parentElement) {
		const control = label.parentElement.querySelector('input, textarea, select');
		if (control) return control;
	}

	return null;
}`

// Locate resolves a target element, waiting up to the target's timeout for
// it to appear. Strategy order: explicit selector, then label resolution.
func Locate(page *rod.Page, t Target) (*rod.Element, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	if t.Selector != "" {
		el, err := page.Timeout(timeout).Element(t.Selector)
		if err == nil {
			return el.CancelTimeout(), nil
		}
		if t.Label == "" {
			return nil, fmt.Errorf("%w: selector %q", ErrNotFound, t.Selector)
		}
		// Selector missed; fall through to the label strategy.
	}

	if t.Label != "" {
		el, err := page.Timeout(timeout).ElementByJS(rod.Eval(resolveByLabelJS, t.Label))
		if err == nil {
			return el.CancelTimeout(), nil
		}
		return nil, fmt.Errorf("%w: label %q", ErrNotFound, t.Label)
	}

	return nil, fmt.Errorf("%w: empty target", ErrNotFound)
}

// ElementByVisibleText scans elements matching any of the candidate
// selectors and returns the first whose trimmed visible text equals the
// wanted text, case-insensitively. No waiting; callers gate on page
// readiness first.
func ElementByVisibleText(page *rod.Page, selectors []string, text string) (*rod.Element, error) {
	want := strings.TrimSpace(text)

	for _, selector := range selectors {
		elements, err := page.Elements(selector)
		if err != nil {
			continue
		}
		for _, el := range elements {
			got, err := el.Text()
			if err != nil {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(got), want) {
				return el, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: visible text %q", ErrNotFound, text)
}
