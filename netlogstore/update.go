package netlogstore

import (
	"fmt"
	"time"
)

// Update is a transition of a store's snapshot, from Old to New. Both are
// ordered newest first.
type Update[T any] struct {
	Old       []T
	New       []T
	Timestamp time.Time
}

// Edit is an element inserted into New, or removed from Old, at Index.
type Edit[T any] struct {
	Index int
	Value T
}

// Move is an element which appears in both Old and New, but at a different
// relative position.
type Move[T any] struct {
	From  int
	To    int
	Value T
}

// Diff is the element-level difference between the two sides of an update.
type Diff[T any] struct {
	Inserted []Edit[T]
	Removed  []Edit[T]
	Moved    []Move[T]
}

// Empty returns true if the two sides of the update hold the same elements in
// the same order.
func (d Diff[T]) Empty() bool {
	return len(d.Inserted) == 0 && len(d.Removed) == 0 && len(d.Moved) == 0
}

func (d Diff[T]) String() string {
	return fmt.Sprintf("inserted=%d removed=%d moved=%d", len(d.Inserted), len(d.Removed), len(d.Moved))
}

// Diff computes the difference between Old and New, identifying elements by
// key. Elements in the longest common subsequence of the two sides are
// unchanged; the rest are removed from Old or inserted into New. An element
// that's both removed and inserted is reported as a move instead.
func (u Update[T]) Diff(key func(T) string) Diff[T] {
	var (
		oldKeys = keys(u.Old, key)
		newKeys = keys(u.New, key)
		inOld   = make([]bool, len(oldKeys)) // in the common subsequence
		inNew   = make([]bool, len(newKeys))
	)

	// lcs[i][j] is the length of the LCS of oldKeys[i:] and newKeys[j:].
	lcs := make([][]int, len(oldKeys)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(newKeys)+1)
	}
	for i := len(oldKeys) - 1; i >= 0; i-- {
		for j := len(newKeys) - 1; j >= 0; j-- {
			if oldKeys[i] == newKeys[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}
	for i, j := 0, 0; i < len(oldKeys) && j < len(newKeys); {
		switch {
		case oldKeys[i] == newKeys[j]:
			inOld[i], inNew[j] = true, true
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			i++
		default:
			j++
		}
	}

	var d Diff[T]

	removed := map[string][]int{} // key -> indexes in Old
	for i, k := range oldKeys {
		if !inOld[i] {
			removed[k] = append(removed[k], i)
		}
	}

	moved := map[int]bool{} // indexes in Old
	for j, k := range newKeys {
		if inNew[j] {
			continue
		}
		if idxs := removed[k]; len(idxs) > 0 {
			d.Moved = append(d.Moved, Move[T]{From: idxs[0], To: j, Value: u.New[j]})
			moved[idxs[0]] = true
			removed[k] = idxs[1:]
			continue
		}
		d.Inserted = append(d.Inserted, Edit[T]{Index: j, Value: u.New[j]})
	}

	for i := range oldKeys {
		if !inOld[i] && !moved[i] {
			d.Removed = append(d.Removed, Edit[T]{Index: i, Value: u.Old[i]})
		}
	}

	return d
}

func keys[T any](vals []T, key func(T) string) []string {
	ks := make([]string, len(vals))
	for i, v := range vals {
		ks[i] = key(v)
	}
	return ks
}
