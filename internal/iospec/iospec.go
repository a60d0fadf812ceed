// Package iospec parses and renders the plain-text test specifications used
// by code exercises.
//
// A specification is a list of test cases separated by blank lines. Inside a
// case, a line wrapped in angle brackets is fed to the program on stdin and
// every other line is expected on stdout:
//
//	<John>
//	Hello John!
//
// A case written as a single "@input" directive lists comma separated stdin
// lines. Its expected output is unknown until a reference program runs, and
// its values may contain generator commands that are resolved on expansion:
//
//	@input $name, $int(1, 100)
//
// Lines starting with '#' are comments. A leading backslash escapes a line
// that would otherwise be read as input, directive or comment.
package iospec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySpec indicates the source did not declare a single test case.
var ErrEmptySpec = errors.New("specification has no test cases")

// CaseKind tells how much of a test case is determined.
type CaseKind int

const (
	// CaseIO has concrete inputs and a concrete expected output.
	CaseIO CaseKind = iota
	// CaseInput has concrete inputs; its output comes from a reference run.
	CaseInput
	// CaseTemplate has inputs with generator commands.
	CaseTemplate
)

// Case is a single test case.
type Case struct {
	Kind    CaseKind
	Inputs  []string
	Outputs []string
}

// IsSimple reports whether the expected output is fixed by the case itself.
func (c Case) IsSimple() bool {
	return c.Kind == CaseIO
}

// Source renders the case back to specification text.
func (c Case) Source() string {
	if c.Kind != CaseIO {
		return "@input " + strings.Join(c.Inputs, ", ")
	}

	lines := make([]string, 0, len(c.Inputs)+len(c.Outputs))
	for _, input := range c.Inputs {
		lines = append(lines, "<"+input+">")
	}
	for _, output := range c.Outputs {
		lines = append(lines, escapeOutput(output))
	}
	if len(lines) == 0 {
		// a case with no input that expects no output
		return `\`
	}
	return strings.Join(lines, "\n")
}

// Stdin returns the text fed to the program for this case.
func (c Case) Stdin() string {
	if len(c.Inputs) == 0 {
		return ""
	}
	return strings.Join(c.Inputs, "\n") + "\n"
}

// Spec is an ordered list of test cases.
type Spec struct {
	Cases []Case
}

// Len returns the number of cases.
func (s *Spec) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Cases)
}

// IsSimple reports whether every case has a fixed expected output.
func (s *Spec) IsSimple() bool {
	for _, c := range s.Cases {
		if !c.IsSimple() {
			return false
		}
	}
	return true
}

// IsExpanded reports whether no case still carries generator commands.
func (s *Spec) IsExpanded() bool {
	for _, c := range s.Cases {
		if c.Kind == CaseTemplate {
			return false
		}
	}
	return true
}

// Source renders the specification as text that Parse accepts.
func (s *Spec) Source() string {
	blocks := make([]string, 0, s.Len())
	for _, c := range s.Cases {
		blocks = append(blocks, c.Source())
	}
	return strings.Join(blocks, "\n\n")
}

// Clone returns a deep copy of the specification.
func (s *Spec) Clone() *Spec {
	out := &Spec{Cases: make([]Case, len(s.Cases))}
	for i, c := range s.Cases {
		out.Cases[i] = cloneCase(c)
	}
	return out
}

// Single wraps the case at index i in its own specification.
func (s *Spec) Single(i int) *Spec {
	return &Spec{Cases: []Case{cloneCase(s.Cases[i])}}
}

// Parse reads specification text.
func Parse(source string) (*Spec, error) {
	spec := &Spec{}
	var block []string
	lineNo := 0
	blockStart := 0

	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		c, err := parseBlock(block)
		if err != nil {
			return fmt.Errorf("line %d: %w", blockStart, err)
		}
		spec.Cases = append(spec.Cases, c)
		block = nil
		return nil
	}

	for _, raw := range strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n") {
		lineNo++
		line := strings.TrimRight(raw, " \t")
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if len(block) == 0 {
			blockStart = lineNo
		}
		block = append(block, line)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(spec.Cases) == 0 {
		return nil, ErrEmptySpec
	}
	return spec, nil
}

func parseBlock(lines []string) (Case, error) {
	if strings.HasPrefix(lines[0], "@") {
		directive, rest, _ := strings.Cut(lines[0], " ")
		if directive != "@input" {
			return Case{}, fmt.Errorf("unknown directive %q", directive)
		}
		if len(lines) > 1 {
			return Case{}, errors.New("@input must be the only line of its test case")
		}
		return parseInputDirective(rest)
	}

	c := Case{Kind: CaseIO}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, `\`):
			c.Outputs = append(c.Outputs, line[1:])
		case strings.HasPrefix(line, "@"):
			return Case{}, fmt.Errorf("directive %q must start its own test case", line)
		case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
			c.Inputs = append(c.Inputs, line[1:len(line)-1])
		default:
			c.Outputs = append(c.Outputs, line)
		}
	}
	return c, nil
}

func parseInputDirective(rest string) (Case, error) {
	values := splitTopLevel(rest)
	if len(values) == 0 {
		return Case{}, errors.New("@input requires at least one value")
	}

	c := Case{Kind: CaseInput, Inputs: values}
	for _, value := range values {
		hasCommand, err := validateCommands(value)
		if err != nil {
			return Case{}, err
		}
		if hasCommand {
			c.Kind = CaseTemplate
		}
	}
	return c, nil
}

func splitTopLevel(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" || len(out) > 0 {
		out = append(out, last)
	}
	return out
}

func escapeOutput(line string) string {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "<") || strings.HasPrefix(line, "@") ||
		strings.HasPrefix(line, "#") || strings.HasPrefix(line, `\`) {
		return `\` + line
	}
	return line
}
