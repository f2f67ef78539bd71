package selector

import (
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// Selector is a compiled query selector.
//
// A Selector is immutable and safe for concurrent use.
type Selector struct {
	documentPath  string
	valueSelector string

	query *jmespath.JMESPath
	value *jmespath.JMESPath // nil when no valueSelector was configured
}

// Compile parses a JMESPath expression into a Selector.
func Compile(expr string) (*Selector, error) {
	return CompileStructured(expr, "")
}

// CompileStructured parses the {documentPath, valueSelector} form.
// An empty valueSelector behaves exactly like Compile(documentPath).
func CompileStructured(documentPath, valueSelector string) (*Selector, error) {
	if documentPath == "" {
		return nil, fmt.Errorf("compile selector: empty documentPath")
	}
	q, err := jmespath.Compile(documentPath)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", documentPath, err)
	}

	s := &Selector{documentPath: documentPath, query: q}
	if valueSelector != "" {
		v, err := jmespath.Compile(valueSelector)
		if err != nil {
			return nil, fmt.Errorf("compile value selector %q: %w", valueSelector, err)
		}
		s.valueSelector = valueSelector
		s.value = v
	}
	return s, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level fixtures.
func MustCompile(expr string) *Selector {
	s, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String implements fmt.Stringer.
func (s *Selector) String() string {
	if s.valueSelector == "" {
		return s.documentPath
	}
	return s.documentPath + " | " + s.valueSelector
}

// Resolve evaluates the selector against doc. It returns nil when the path
// does not resolve, including when doc itself is nil.
//
// Evaluation errors (for example a filter comparing mismatched types) are
// treated as "does not resolve".
func (s *Selector) Resolve(doc map[string]any) any {
	if doc == nil {
		return nil
	}
	out, err := s.query.Search(doc)
	if err != nil || out == nil {
		return nil
	}
	if s.value == nil {
		return out
	}

	if list, ok := out.([]any); ok {
		projected := make([]any, 0, len(list))
		for _, elem := range list {
			v, err := s.value.Search(elem)
			if err != nil || v == nil {
				continue
			}
			projected = append(projected, v)
		}
		return projected
	}
	v, err := s.value.Search(out)
	if err != nil {
		return nil
	}
	return v
}

// ResolveOr is Resolve with a fallback for unresolved paths.
func (s *Selector) ResolveOr(doc map[string]any, def any) any {
	if v := s.Resolve(doc); v != nil {
		return v
	}
	return def
}
