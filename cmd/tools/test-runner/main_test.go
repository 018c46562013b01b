package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/michaelbrown/algoprep/internal/verdict"
)

func TestFormatReportListsFailuresOnly(t *testing.T) {
	report := verdict.Report{
		Passed: 1,
		Total:  3,
		Results: []verdict.TestResult{
			{Outcome: verdict.Passed, Record: &verdict.RunRecord{Call: "add(a=1, b=1)", Return: json.RawMessage("2")}},
			{Outcome: verdict.Failed, Record: &verdict.RunRecord{Call: "add(a=2, b=3)", Return: json.RawMessage("-1")}},
			{Outcome: verdict.NotRun},
		},
	}

	text := formatReport(report)
	assert.True(t, strings.HasPrefix(text, "Passed tests: 1/3 (33%)\n"))
	assert.Contains(t, text, "test 2: fail")
	assert.Contains(t, text, `"call": "add(a=2, b=3)"`)
	assert.NotContains(t, text, "add(a=1, b=1)")
	assert.NotContains(t, text, "test 3")
}

func TestFormatReportTruncates(t *testing.T) {
	report := verdict.Report{Total: 1, Results: []verdict.TestResult{
		{Outcome: verdict.Failed, Record: &verdict.RunRecord{Call: "f()", Error: strings.Repeat("x", 2*maxOutput)}},
	}}

	text := formatReport(report)
	assert.True(t, strings.HasSuffix(text, "... (output truncated)"))
	assert.Less(t, len(text), maxOutput+100)
}
