package task

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/michaelbrown/algoprep/internal/value"
)

// TestCase is one invocation of the task function with its expectations.
// A nil Return or Stdout means that expectation is not checked.
type TestCase struct {
	Args   map[string]value.Value `json:"args" yaml:"args"`
	Return *value.Value           `json:"return,omitempty" yaml:"return,omitempty"`
	Stdin  *string                `json:"stdin,omitempty" yaml:"stdin,omitempty"`
	Stdout *string                `json:"stdout,omitempty" yaml:"stdout,omitempty"`
}

// UnmarshalJSON accepts a stdout expectation written as a JSON object or
// array and keeps it as compact JSON text.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	var raw struct {
		Args   map[string]value.Value `json:"args"`
		Return *value.Value           `json:"return"`
		Stdin  *string                `json:"stdin"`
		Stdout json.RawMessage        `json:"stdout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*tc = TestCase{Args: raw.Args, Return: raw.Return, Stdin: raw.Stdin}
	if len(raw.Stdout) == 0 || bytes.Equal(raw.Stdout, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Stdout, &s); err == nil {
		tc.Stdout = &s
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw.Stdout); err != nil {
		return fmt.Errorf("parsing stdout: %w", err)
	}
	s = buf.String()
	tc.Stdout = &s
	return nil
}

// Normalize coerces the test to sig: args are converted to their declared
// types, missing args get defaults, unknown args are dropped, and the return
// expectation is dropped when the signature declares none.
func (tc TestCase) Normalize(sig Signature) TestCase {
	out := TestCase{
		Args:   make(map[string]value.Value, len(sig.Args)),
		Stdin:  tc.Stdin,
		Stdout: tc.Stdout,
	}
	for _, a := range sig.Args {
		v, ok := tc.Args[a.Name]
		if !ok {
			out.Args[a.Name] = value.Default(a.Type)
			continue
		}
		out.Args[a.Name] = value.Convert(v, a.Type)
	}
	if sig.HasReturn() && tc.Return != nil {
		ret := value.Convert(*tc.Return, sig.ReturnType)
		out.Return = &ret
	}
	return out
}

// Clone returns a deep copy.
func (tc TestCase) Clone() TestCase {
	out := TestCase{Args: make(map[string]value.Value, len(tc.Args))}
	for k, v := range tc.Args {
		out.Args[k] = v
	}
	if tc.Return != nil {
		r := *tc.Return
		out.Return = &r
	}
	if tc.Stdin != nil {
		s := *tc.Stdin
		out.Stdin = &s
	}
	if tc.Stdout != nil {
		s := *tc.Stdout
		out.Stdout = &s
	}
	return out
}

// StdinText returns the stdin text, empty when unset.
func (tc TestCase) StdinText() string {
	if tc.Stdin == nil {
		return ""
	}
	return *tc.Stdin
}

// NormalizeAll normalizes every test against sig.
func NormalizeAll(tests []TestCase, sig Signature) []TestCase {
	out := make([]TestCase, len(tests))
	for i, tc := range tests {
		out[i] = tc.Normalize(sig)
	}
	return out
}
