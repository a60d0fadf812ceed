// Package plagiarism finds submissions that look alike across users.
package plagiarism

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Pair is two items whose keys compared at or above the threshold.
type Pair[T any] struct {
	A          T
	B          T
	Similarity float64
}

// Compare scores how alike two keys are, from 0 to 1.
type Compare func(a, b string) float64

// FindIdentical compares every pair of items by key and returns those
// scoring at least threshold, in input order.
func FindIdentical[T any](items []T, key func(T) string, cmp Compare, threshold float64) []Pair[T] {
	if cmp == nil {
		cmp = Exact
	}

	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = key(item)
	}

	var pairs []Pair[T]
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			score := cmp(keys[i], keys[j])
			if score >= threshold {
				pairs = append(pairs, Pair[T]{A: items[i], B: items[j], Similarity: score})
			}
		}
	}
	return pairs
}

// Group is a bucket of items sharing a key.
type Group[T any] struct {
	Key   string
	Items []T
}

// GroupIdentical buckets items by key in a single pass. Buckets keep the
// order in which their key first appeared.
func GroupIdentical[T any](items []T, key func(T) string) []Group[T] {
	index := map[string]int{}
	var groups []Group[T]
	for _, item := range items {
		k := key(item)
		pos, ok := index[k]
		if !ok {
			pos = len(groups)
			index[k] = pos
			groups = append(groups, Group[T]{Key: k})
		}
		groups[pos].Items = append(groups[pos].Items, item)
	}
	return groups
}

// Suspicious keeps the groups holding more than one item.
func Suspicious[T any](groups []Group[T]) []Group[T] {
	var out []Group[T]
	for _, g := range groups {
		if len(g.Items) > 1 {
			out = append(out, g)
		}
	}
	return out
}

// Exact scores 1 for equal keys and 0 otherwise.
func Exact(a, b string) float64 {
	if a == b {
		return 1
	}
	return 0
}

// Similarity is the matching ratio of the lines of a and b.
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(splitLines(a), splitLines(b)).Ratio()
}

// NormalizeSource drops blank lines and collapses runs of whitespace so
// cosmetic edits do not hide a copy.
func NormalizeSource(source string) string {
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, "\n")
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
