package config

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// Schema definition names in schema.cue.
const (
	defTagConfig      = "#TagConfig"
	defMergeFields    = "#MergeFieldsConfig"
	defEventsConfig   = "#EventsConfig"
	defBackfillConfig = "#BackfillConfig"
)

// ValidationResult is the outcome of checking one feature setting against
// its shape definition.
type ValidationResult struct {
	Valid  bool
	Errors []string

	// Value is the setting unified with its definition. Only meaningful
	// when Valid is true.
	Value cue.Value
}

// Validator checks JSON-encoded feature settings against the embedded CUE
// definitions.
//
// A cue.Context is not safe for concurrent use, so evaluation is serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// Validate unifies the raw JSON document with the named definition and
// reports every violation. raw must already be known to be well-formed JSON.
func (v *Validator) Validate(definition string, raw []byte) ValidationResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	def := v.schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return ValidationResult{Errors: []string{fmt.Sprintf("unknown definition %s", definition)}}
	}

	data := v.ctx.CompileBytes(raw, cue.Filename("input.json"))
	if err := data.Err(); err != nil {
		return ValidationResult{Errors: errorMessages(err)}
	}

	unified := def.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return ValidationResult{Errors: errorMessages(err)}
	}
	return ValidationResult{Valid: true, Value: unified}
}

// errorMessages flattens a CUE error list into messages.
func errorMessages(err error) []string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return msgs
}
