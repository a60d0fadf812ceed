package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Result is what a grader computed for one submission. A nil Grade means
// the submission needs manual grading.
type Result struct {
	Grade    *float64
	Feedback map[string]interface{}
}

// Grader evaluates submissions of one activity kind. Implementations return
// an *InvalidResponseError for payloads that cannot be evaluated.
type Grader interface {
	Grade(ctx context.Context, activity *models.Activity, submission *models.Submission) (Result, error)
}

// GraderFunc adapts a function to the Grader interface.
type GraderFunc func(ctx context.Context, activity *models.Activity, submission *models.Submission) (Result, error)

// Grade calls f.
func (f GraderFunc) Grade(ctx context.Context, activity *models.Activity, submission *models.Submission) (Result, error) {
	return f(ctx, activity, submission)
}

// Kind pairs a grader with the schema its payloads must satisfy.
type Kind struct {
	Name   string
	Grader Grader
	schema *jsonschema.Schema
}

// Registry maps activity kinds to their graders. It is populated once at
// start-up and only read afterwards.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: map[string]Kind{}}
}

// Register adds a kind. An empty schema accepts any payload. Registering the
// same kind twice or passing an invalid schema panics.
func (r *Registry) Register(name string, grader Grader, schema string) {
	if name == "" || grader == nil {
		panic("grading: kind name and grader are required")
	}

	kind := Kind{Name: name, Grader: grader}
	if strings.TrimSpace(schema) != "" {
		compiled, err := jsonschema.CompileString(name+".schema.json", schema)
		if err != nil {
			panic(fmt.Sprintf("grading: compile schema for %q: %v", name, err))
		}
		kind.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[name]; exists {
		panic(fmt.Sprintf("grading: kind %q registered twice", name))
	}
	r.kinds[name] = kind
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return kind, nil
}

// Names lists the registered kinds in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePayload checks payload against the schema of the kind.
func (k Kind) ValidatePayload(payload map[string]interface{}) error {
	if k.schema == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return NewInvalidResponse("payload is not valid JSON: %v", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var doc interface{}
	if err := decoder.Decode(&doc); err != nil {
		return NewInvalidResponse("payload is not valid JSON: %v", err)
	}

	if err := k.schema.Validate(doc); err != nil {
		return NewInvalidResponse("malformed payload").WithDetail("schema", err.Error())
	}
	return nil
}
