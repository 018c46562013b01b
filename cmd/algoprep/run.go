package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/algoprep/internal/config"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/verdict"
)

var (
	timeoutFlag int
	savedFlag   bool
)

var runCmd = &cobra.Command{
	Use:   "run <task> <solution.py>",
	Short: "Run a solution file against a task's tests",
	Long: `Run a Python solution against the sample tests of a task. The task is a
slug from the tasks directory or a path to a task file.

Examples:
  algoprep run two-sum solution.py
  algoprep run tasks/two-sum.yaml solution.py --saved --timeout 2`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&timeoutFlag, "timeout", 5, "Per-test time limit in seconds (0 disables)")
	runCmd.Flags().BoolVar(&savedFlag, "saved", false, "Also run your saved custom tests")
	rootCmd.AddCommand(runCmd)
}

// resolveTask accepts a task file path or a catalog slug.
func resolveTask(cfg *config.Config, ref string) (*task.Descriptor, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return task.Load(ref)
	}
	return newCatalog(cfg).Get(ref)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	desc, err := resolveTask(cfg, args[0])
	if err != nil {
		return err
	}
	code, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading solution: %w", err)
	}

	tests := append([]task.TestCase(nil), desc.Tests...)
	if savedFlag {
		store, cache, err := openStore(cfg)
		if err != nil {
			return err
		}
		st, err := store.Load(context.Background(), desc.Slug)
		cache.Close()
		if err != nil {
			return err
		}
		tests = append(tests, task.NormalizeAll(st.Tests, desc.Signature)...)
	}

	eng := newEngine(cfg)
	defer eng.Close()
	eval := verdict.New(eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s (%d tests)\n", desc.Title, len(tests))
	report, err := eval.RunAll(ctx, verdict.Batch{
		Code:      string(code),
		Signature: desc.Signature,
		Tests:     tests,
		Timeout:   time.Duration(max(timeoutFlag, 0)) * time.Second,
	}, verdict.Hooks{
		OnResult: func(i int, r verdict.TestResult) {
			printResult(i, r)
		},
	})
	if err != nil {
		return err
	}

	if report.Interrupted {
		fmt.Println("\nExecution interrupted")
	}
	fmt.Printf("\n%s\n", report.Summary())
	if report.Passed != report.Total {
		return fmt.Errorf("%d of %d tests did not pass", report.Total-report.Passed, report.Total)
	}
	return nil
}

func printResult(i int, r verdict.TestResult) {
	mark := "\033[32m✓\033[0m"
	if r.Outcome != verdict.Passed {
		mark = "\033[31m✗\033[0m"
	}
	rec := r.Record
	fmt.Printf("%s #%d %s\n", mark, i+1, strings.ReplaceAll(rec.Call, "\n", "\n     "))
	if r.Outcome == verdict.Passed {
		return
	}
	if rec.Error != "" {
		fmt.Printf("  \033[90m│ error: %s\033[0m\n", truncate(rec.Error, 300))
		return
	}
	if rec.ExpectedReturn != nil {
		fmt.Printf("  \033[90m│ expected: %s\033[0m\n", rec.ExpectedReturn.String())
		fmt.Printf("  \033[90m│ returned: %s\033[0m\n", string(rec.Return))
	}
	if rec.ExpectedStdout != nil {
		got := ""
		if rec.Stdout != nil {
			got = *rec.Stdout
		}
		fmt.Printf("  \033[90m│ expected stdout: %q\033[0m\n", *rec.ExpectedStdout)
		fmt.Printf("  \033[90m│ stdout:          %q\033[0m\n", got)
	}
}
