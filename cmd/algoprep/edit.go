package main

import (
	"errors"
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/value"
)

// splitWords splits a command line on blanks. Single quotes keep text
// literal and double quotes allow \" and \\ escapes, as in a POSIX shell.
func splitWords(line string) ([]string, error) {
	var (
		words []string
		cur   strings.Builder
		inTok bool
		quote rune
	)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch {
			case r == '"':
				quote = 0
			case r == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\'):
				i++
				cur.WriteRune(runes[i])
			default:
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inTok = r, true
		case r == ' ' || r == '\t':
			if inTok {
				words = append(words, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if inTok {
		words = append(words, cur.String())
	}
	return words, nil
}

// Reserved field names of a test line besides the arguments.
const (
	fieldReturn = "return"
	fieldStdin  = "stdin"
	fieldStdout = "stdout"
)

// applyFields sets the name=value words onto tc. Argument text is read the
// way the editor widgets read it. An empty return or stdout removes that
// expectation.
func applyFields(sig task.Signature, tc task.TestCase, words []string) (task.TestCase, error) {
	tc = tc.Clone()
	if tc.Args == nil {
		tc.Args = make(map[string]value.Value, len(sig.Args))
	}
	types := sig.ArgTypes()
	for _, w := range words {
		name, text, ok := strings.Cut(w, "=")
		if !ok {
			return tc, fmt.Errorf("expected name=value, got %q", w)
		}
		switch name {
		case fieldReturn:
			if text == "" || !sig.HasReturn() {
				tc.Return = nil
				continue
			}
			v := value.Decode(text, sig.ReturnType)
			tc.Return = &v
		case fieldStdin:
			s := text
			tc.Stdin = &s
		case fieldStdout:
			if text == "" {
				tc.Stdout = nil
				continue
			}
			s := text
			tc.Stdout = &s
		default:
			t, ok := types[name]
			if !ok {
				return tc, fmt.Errorf("unknown argument %q", name)
			}
			tc.Args[name] = value.Decode(text, t)
		}
	}
	return tc, nil
}

// formatFields renders tc as the words applyFields accepts.
func formatFields(sig task.Signature, tc task.TestCase) string {
	var parts []string
	for _, a := range sig.Args {
		if v, ok := tc.Args[a.Name]; ok {
			parts = append(parts, a.Name+"="+shellescape.Quote(value.Encode(v)))
		}
	}
	if tc.Return != nil {
		parts = append(parts, fieldReturn+"="+shellescape.Quote(value.Encode(*tc.Return)))
	}
	if tc.Stdin != nil && *tc.Stdin != "" {
		parts = append(parts, fieldStdin+"="+shellescape.Quote(*tc.Stdin))
	}
	if tc.Stdout != nil {
		parts = append(parts, fieldStdout+"="+shellescape.Quote(*tc.Stdout))
	}
	return strings.Join(parts, " ")
}
