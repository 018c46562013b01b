package task

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/michaelbrown/algoprep/internal/value"
)

// Arg is one declared parameter of a task function.
type Arg struct {
	Name string     `json:"name" yaml:"name"`
	Type value.Type `json:"type" yaml:"type"`
}

// Signature is the function a task asks the user to implement.
type Signature struct {
	Name       string     `json:"name" yaml:"name"`
	Args       []Arg      `json:"args" yaml:"args"`
	ReturnType value.Type `json:"return_type,omitempty" yaml:"return_type,omitempty"`
}

// SignatureError describes why a signature cannot be called.
type SignatureError struct {
	Field  string
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid signature %s: %s", e.Field, e.Reason)
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var pythonKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true, "assert": true,
	"async": true, "await": true, "break": true, "class": true, "continue": true, "def": true,
	"del": true, "elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true, "is": true,
	"lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

func validName(s string) bool {
	return identifier.MatchString(s) && !pythonKeywords[s]
}

// Validate checks that the function and argument names are callable
// identifiers, argument names are unique and every type is known.
func (s Signature) Validate() error {
	if !validName(s.Name) {
		return &SignatureError{Field: "name", Reason: fmt.Sprintf("%q is not a valid identifier", s.Name)}
	}
	seen := make(map[string]bool, len(s.Args))
	for i, a := range s.Args {
		field := fmt.Sprintf("args[%d]", i)
		if !validName(a.Name) {
			return &SignatureError{Field: field, Reason: fmt.Sprintf("%q is not a valid identifier", a.Name)}
		}
		if seen[a.Name] {
			return &SignatureError{Field: field, Reason: fmt.Sprintf("duplicate argument %q", a.Name)}
		}
		seen[a.Name] = true
		if _, err := value.ParseType(string(a.Type)); err != nil {
			return &SignatureError{Field: field, Reason: err.Error()}
		}
	}
	if s.ReturnType != "" {
		if _, err := value.ParseType(string(s.ReturnType)); err != nil {
			return &SignatureError{Field: "return_type", Reason: err.Error()}
		}
	}
	return nil
}

// HasReturn reports whether tests of this signature carry an expected return.
func (s Signature) HasReturn() bool {
	return s.ReturnType != ""
}

// ArgTypes maps argument names to their declared types.
func (s Signature) ArgTypes() map[string]value.Type {
	types := make(map[string]value.Type, len(s.Args))
	for _, a := range s.Args {
		types[a.Name] = a.Type
	}
	return types
}

// Def renders the Python stub the editor starts from.
func (s Signature) Def() string {
	if s.Name == "" {
		return ""
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = a.Name
		if a.Type != "" {
			parts[i] += ": " + string(a.Type)
		}
	}
	arrow := ""
	if s.ReturnType != "" {
		arrow = " -> " + string(s.ReturnType)
	}
	return fmt.Sprintf("def %s(%s)%s:\n    pass", s.Name, strings.Join(parts, ", "), arrow)
}

// Call renders a call expression such as add(a=2, b=3). Calls longer than
// wrap with more than one argument are split one argument per line.
func (s Signature) Call(args map[string]value.Value, wrap int) string {
	if s.Name == "" {
		return ""
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		rendered := "null"
		if v, ok := args[a.Name]; ok {
			rendered = v.String()
		}
		parts[i] = a.Name + "=" + rendered
	}
	call := s.Name + "(" + strings.Join(parts, ", ") + ")"
	if len(call) > wrap && len(parts) > 1 {
		call = s.Name + "(\n  " + strings.Join(parts, ",\n  ") + "\n)"
	}
	return call
}

// NewTestCase returns a test case with every argument (and the return value,
// if declared) set to its type default.
func (s Signature) NewTestCase() TestCase {
	tc := TestCase{Args: make(map[string]value.Value, len(s.Args))}
	for _, a := range s.Args {
		tc.Args[a.Name] = value.Default(a.Type)
	}
	if s.HasReturn() {
		ret := value.Default(s.ReturnType)
		tc.Return = &ret
	}
	return tc
}
