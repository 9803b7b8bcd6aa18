package qris

import (
	"reflect"
	"sort"
)

// detailKey marks a transaction-detail record anywhere in the envelope.
// The envelope's overall shape is not contractually fixed; this key is the
// only structural invariant the portal has kept across revisions.
const detailKey = "detail"

// CollectDetails walks a decoded JSON tree depth-first and returns every
// object found under a "detail" key, each at most once. The walk is pure
// and cycle-safe: nodes are tracked by identity, so a graph that references
// an ancestor still terminates. Map keys are visited in sorted order to keep
// the result deterministic.
func CollectDetails(root any) []map[string]any {
	w := &detailWalker{
		visited:   make(map[uintptr]bool),
		collected: make(map[uintptr]bool),
	}
	w.walk(root)
	return w.found
}

type detailWalker struct {
	visited   map[uintptr]bool
	collected map[uintptr]bool
	found     []map[string]any
}

func (w *detailWalker) walk(node any) {
	switch v := node.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(v).Pointer()
		if w.visited[ptr] {
			return
		}
		w.visited[ptr] = true

		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if k == detailKey {
				w.collect(v[k])
			}
			// Details can nest, so collected nodes are still walked.
			w.walk(v[k])
		}

	case []any:
		if len(v) == 0 {
			return
		}
		ptr := reflect.ValueOf(v).Pointer()
		if w.visited[ptr] {
			return
		}
		w.visited[ptr] = true

		for _, item := range v {
			w.walk(item)
		}
	}
}

// collect records a detail value if it is an object not seen before. The
// separate collected set guards against the same object reachable as a
// detail through two different parents.
func (w *detailWalker) collect(value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		return
	}
	ptr := reflect.ValueOf(obj).Pointer()
	if w.collected[ptr] {
		return
	}
	w.collected[ptr] = true
	w.found = append(w.found, obj)
}
