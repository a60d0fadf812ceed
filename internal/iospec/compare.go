package iospec

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// NormalizeOutput strips trailing whitespace from each line and drops
// trailing blank lines.
func NormalizeOutput(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.TrimRight(line, " \t\r")
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// SplitOutput breaks program output into lines.
func SplitOutput(stdout string) []string {
	stdout = strings.ReplaceAll(stdout, "\r\n", "\n")
	return NormalizeOutput(strings.Split(stdout, "\n"))
}

// OutputsEqual compares two outputs line by line ignoring trailing
// whitespace.
func OutputsEqual(expected, received []string) bool {
	a, b := NormalizeOutput(expected), NormalizeOutput(received)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// OutputDiff renders a unified diff between the expected and the received
// output.
func OutputDiff(expected, received []string) string {
	diff := difflib.UnifiedDiff{
		A:        withNewlines(NormalizeOutput(expected)),
		B:        withNewlines(NormalizeOutput(received)),
		FromFile: "expected",
		ToFile:   "received",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line + "\n"
	}
	return out
}
