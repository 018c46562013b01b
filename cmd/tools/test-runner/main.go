package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/config"
	"github.com/michaelbrown/algoprep/internal/engine"
	"github.com/michaelbrown/algoprep/internal/sandbox"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/verdict"
)

// maxOutput bounds the text returned to the client.
const maxOutput = 8000

type runner struct {
	catalog task.Catalog
	eval    *verdict.Evaluator
}

func main() {
	// stdout carries the protocol, so logs go to stderr.
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("tool", "test-runner").Logger()

	cfg, err := config.Load(os.Getenv("ALGOPREP_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("loading config")
	}

	var launcher sandbox.Launcher = sandbox.Local{Python: cfg.Engine.Python}
	if cfg.Engine.Mode == "docker" {
		launcher = sandbox.NewDocker(sandbox.Policy{
			MaxMemory: cfg.Engine.MaxMemory,
			Network:   cfg.Engine.Network,
			Images:    cfg.Engine.Images,
		}, cfg.Engine.Image)
	}
	eng := engine.New(engine.Options{
		Launcher:       launcher,
		StartupTimeout: cfg.Engine.StartupTimeout,
		Logger:         logger,
	})
	defer eng.Close()

	r := &runner{
		catalog: task.Catalog{Dir: cfg.Tasks.Dir},
		eval:    verdict.New(eng, logger),
	}

	s := server.NewMCPServer("algoprep-test-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "list_tasks",
		Description: "List the practice tasks available to run_tests.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, r.handleListTasks)

	s.AddTool(mcp.Tool{
		Name:        "run_tests",
		Description: "Run a Python solution against the sample tests of a practice task and report which tests pass.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "Task slug, as returned by list_tasks",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Python source defining the task function",
				},
				"timeout": map[string]any{
					"type":        "number",
					"description": "Per-test time limit in seconds (default 5, 0 disables)",
				},
			},
			Required: []string{"task", "code"},
		},
	}, r.handleRunTests)

	if err := server.ServeStdio(s); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
}

func (r *runner) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := r.catalog.List()
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s\t%s\n", t.Slug, t.Title)
	}
	if b.Len() == 0 {
		b.WriteString("no tasks available")
	}
	return textResult(b.String(), false), nil
}

func (r *runner) handleRunTests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	slug, _ := args["task"].(string)
	code, _ := args["code"].(string)
	if slug == "" || code == "" {
		return errResult("error: 'task' and 'code' are required"), nil
	}
	timeout := 5 * time.Second
	if t, ok := args["timeout"].(float64); ok {
		timeout = time.Duration(max(t, 0) * float64(time.Second))
	}

	desc, err := r.catalog.Get(slug)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	report, err := r.eval.RunAll(ctx, verdict.Batch{
		Code:      code,
		Signature: desc.Signature,
		Tests:     desc.Tests,
		Timeout:   timeout,
	}, verdict.Hooks{})
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	text := formatReport(report)
	return textResult(text, report.Passed != report.Total), nil
}

// formatReport renders the summary line followed by the record of every
// test that did not pass.
func formatReport(report verdict.Report) string {
	var b strings.Builder
	b.WriteString(report.Summary() + "\n")
	for i, res := range report.Results {
		if res.Outcome == verdict.Passed || res.Record == nil {
			continue
		}
		data, _ := json.MarshalIndent(res.Record, "", "  ")
		fmt.Fprintf(&b, "\ntest %d: %s\n%s\n", i+1, res.Outcome, data)
	}
	text := b.String()
	if len(text) > maxOutput {
		text = text[:maxOutput] + "\n... (output truncated)"
	}
	return text
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: isError,
	}
}

func errResult(text string) *mcp.CallToolResult {
	return textResult(text, true)
}
