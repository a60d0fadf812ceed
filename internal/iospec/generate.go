package iospec

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

var commandPattern = regexp.MustCompile(`\$\$|\$([a-z]+)(\(([^)]*)\))?`)

var (
	sampleNames = []string{"Alice", "Bruno", "Carla", "Diego", "Elena", "Fabio", "Gina", "Hugo", "Iris", "Joana", "Kai", "Lara"}
	sampleWords = []string{"apple", "river", "stone", "cloud", "tiger", "paper", "light", "green", "orbit", "piano", "sugar", "winter"}
)

type generator func(rng *rand.Rand, args []string) (string, error)

var generators = map[string]generator{
	"int":    genInt,
	"float":  genFloat,
	"name":   genChoice(sampleNames),
	"word":   genChoice(sampleWords),
	"choice": genArgChoice,
}

// ExpandInputs returns a copy of the specification holding at least size
// cases. Generator commands are resolved with rng, cycling through template
// cases until the requested size is reached. Cases that are already concrete
// are kept in place.
func (s *Spec) ExpandInputs(size int, rng *rand.Rand) (*Spec, error) {
	var templates []Case
	for _, c := range s.Cases {
		if c.Kind == CaseTemplate {
			templates = append(templates, c)
		}
	}

	out := &Spec{Cases: make([]Case, 0, size)}
	for _, c := range s.Cases {
		if c.Kind != CaseTemplate {
			out.Cases = append(out.Cases, cloneCase(c))
			continue
		}
		expanded, err := expandCase(c, rng)
		if err != nil {
			return nil, err
		}
		out.Cases = append(out.Cases, expanded)
	}

	for i := 0; len(templates) > 0 && len(out.Cases) < size; i++ {
		expanded, err := expandCase(templates[i%len(templates)], rng)
		if err != nil {
			return nil, err
		}
		out.Cases = append(out.Cases, expanded)
	}
	return out, nil
}

func cloneCase(c Case) Case {
	return Case{
		Kind:    c.Kind,
		Inputs:  append([]string(nil), c.Inputs...),
		Outputs: append([]string(nil), c.Outputs...),
	}
}

func expandCase(c Case, rng *rand.Rand) (Case, error) {
	inputs := make([]string, len(c.Inputs))
	for i, value := range c.Inputs {
		resolved, err := resolve(value, rng)
		if err != nil {
			return Case{}, err
		}
		inputs[i] = resolved
	}
	return Case{Kind: CaseInput, Inputs: inputs}, nil
}

func resolve(value string, rng *rand.Rand) (string, error) {
	var firstErr error
	result := commandPattern.ReplaceAllStringFunc(value, func(match string) string {
		if match == "$$" {
			return "$"
		}
		name, args := splitCommand(match)
		gen := generators[name]
		if gen == nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("unknown command $%s", name)
			}
			return match
		}
		out, err := gen(rng, args)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("$%s: %w", name, err)
		}
		return out
	})
	return result, firstErr
}

// validateCommands checks every command in value against the known
// generators and their argument counts.
func validateCommands(value string) (bool, error) {
	found := false
	for _, match := range commandPattern.FindAllString(value, -1) {
		if match == "$$" {
			continue
		}
		found = true
		name, args := splitCommand(match)
		gen := generators[name]
		if gen == nil {
			return false, fmt.Errorf("unknown command $%s", name)
		}
		if _, err := gen(rand.New(rand.NewSource(0)), args); err != nil {
			return false, fmt.Errorf("$%s: %w", name, err)
		}
	}
	return found, nil
}

func splitCommand(match string) (string, []string) {
	sub := commandPattern.FindStringSubmatch(match)
	name := sub[1]
	if sub[2] == "" {
		return name, nil
	}
	var args []string
	for _, arg := range strings.Split(sub[3], ",") {
		args = append(args, strings.TrimSpace(arg))
	}
	return name, args
}

func genInt(rng *rand.Rand, args []string) (string, error) {
	lo, hi := int64(0), int64(100)
	if len(args) > 0 {
		if len(args) != 2 {
			return "", fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		var err error
		if lo, err = strconv.ParseInt(args[0], 10, 64); err != nil {
			return "", err
		}
		if hi, err = strconv.ParseInt(args[1], 10, 64); err != nil {
			return "", err
		}
	}
	if hi < lo {
		return "", fmt.Errorf("empty range [%d, %d]", lo, hi)
	}
	return strconv.FormatInt(lo+rng.Int63n(hi-lo+1), 10), nil
}

func genFloat(rng *rand.Rand, args []string) (string, error) {
	lo, hi := 0.0, 1.0
	if len(args) > 0 {
		if len(args) != 2 {
			return "", fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		var err error
		if lo, err = strconv.ParseFloat(args[0], 64); err != nil {
			return "", err
		}
		if hi, err = strconv.ParseFloat(args[1], 64); err != nil {
			return "", err
		}
	}
	if hi < lo {
		return "", fmt.Errorf("empty range [%g, %g]", lo, hi)
	}
	return strconv.FormatFloat(lo+rng.Float64()*(hi-lo), 'f', 2, 64), nil
}

func genChoice(options []string) generator {
	return func(rng *rand.Rand, args []string) (string, error) {
		if len(args) > 0 {
			return "", errors.New("takes no arguments")
		}
		return options[rng.Intn(len(options))], nil
	}
}

func genArgChoice(rng *rand.Rand, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("requires at least one option")
	}
	return args[rng.Intn(len(args))], nil
}
