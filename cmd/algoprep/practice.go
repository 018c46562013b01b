package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/algoprep/internal/practice"
	"github.com/michaelbrown/algoprep/internal/verdict"
)

var practiceCmd = &cobra.Command{
	Use:   "practice <task> [solution.py]",
	Short: "Practice a task interactively",
	Long: `Open a task in an interactive session. Your code and custom tests are
restored from the last visit and saved as you go.

When a solution file is given, it is re-read before every run so you can
edit it in your own editor.

Examples:
  algoprep practice two-sum
  algoprep practice two-sum ./two_sum.py`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPractice,
}

func init() {
	rootCmd.AddCommand(practiceCmd)
}

// repl is the terminal front end of one practice session.
type repl struct {
	sess     *practice.Session
	codeFile string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func runPractice(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	desc, err := resolveTask(cfg, args[0])
	if err != nil {
		return err
	}

	store, cache, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()
	defer store.Wait()

	eng := newEngine(cfg)
	defer eng.Close()

	ctx := context.Background()
	sess, err := practice.Open(ctx, practice.Config{
		Task:      desc,
		Store:     store,
		Evaluator: verdict.New(eng, logger),
		Warmer:    eng,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	r := &repl{sess: sess}
	if len(args) == 2 {
		r.codeFile = args[1]
		if err := r.ensureCodeFile(); err != nil {
			return err
		}
	}

	fmt.Printf("algoprep - %s\n", desc.Title)
	fmt.Printf("%s\n", desc.Signature.Def())
	if r.codeFile != "" {
		fmt.Printf("Solution file: %s\n", r.codeFile)
	}
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	unsubscribe := sess.Subscribe(r.onEvent)
	defer unsubscribe()

	if err := sess.Prepare(ctx); err != nil {
		fmt.Printf("\033[31m%s\033[0m\n", sess.Status())
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m" + desc.Slug + ">\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "algoprep_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C during a run interrupts the run, not the session.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			r.interrupt()
		}
	}()

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if quit := r.handle(ctx, input); quit {
			fmt.Println("Goodbye!")
			return nil
		}
	}
}

// ensureCodeFile seeds a missing solution file with the saved code.
func (r *repl) ensureCodeFile() error {
	if _, err := os.Stat(r.codeFile); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.WriteFile(r.codeFile, []byte(r.sess.Snapshot().Code+"\n"), 0o644)
}

func (r *repl) interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *repl) onEvent(ev practice.Event) {
	switch ev.Kind {
	case practice.EventTestResult:
		printResult(ev.Index, verdict.TestResult{Outcome: ev.Test.Outcome, Record: ev.Test.Record})
	case practice.EventSaved:
		switch s := ev.Sync; {
		case s.Skipped:
			fmt.Printf("Saved locally (%s)\n", s.Reason)
		case len(s.Failed) > 0:
			fmt.Printf("\033[31mSync failed for %d documents\033[0m\n", len(s.Failed))
		default:
			fmt.Printf("Synced %d documents\n", len(s.Pushed))
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (r *repl) handle(ctx context.Context, input string) bool {
	words, err := splitWords(input)
	if err != nil {
		fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
		return false
	}
	name, rest := strings.ToLower(words[0]), words[1:]
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/run", "/r":
		err = r.run(ctx)
	case "/tests", "/ls":
		r.listTests(len(rest) > 0 && rest[0] == "all")
	case "/add":
		err = r.addTest(ctx, rest)
	case "/set":
		err = r.setTest(ctx, rest)
	case "/rm":
		err = r.removeTest(ctx, rest)
	case "/show":
		err = r.showTest(rest)
	case "/code":
		fmt.Println(r.sess.Snapshot().Code)
	case "/reload":
		err = r.reload(ctx)
	case "/hide":
		err = r.hide(ctx, rest)
	case "/timeout":
		err = r.timeout(ctx, rest)
	case "/save":
		force := len(rest) > 0 && rest[0] == "force"
		err = r.sess.Dispatch(ctx, practice.SaveRequested{Force: force})
	case "/help":
		printPracticeHelp()
	default:
		err = fmt.Errorf("unknown command: %s (try /help)", words[0])
	}
	if err != nil {
		fmt.Printf("\033[31merror: %s\033[0m\n", err)
	}
	fmt.Println()
	return false
}

func printPracticeHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /run                      - Run all tests")
	fmt.Println("  /tests [all]              - List tests (all ignores the hide filters)")
	fmt.Println("  /show <n>                 - Show a test and its last result")
	fmt.Println("  /add [arg=value ...]      - Add a test; return=, stdin=, stdout= set expectations")
	fmt.Println("  /set <n> arg=value ...    - Edit a test")
	fmt.Println("  /rm <n>                   - Remove a test")
	fmt.Println("  /code                     - Print the current code")
	fmt.Println("  /reload                   - Re-read the solution file")
	fmt.Println("  /hide passed|sample on|off - Toggle the display filters")
	fmt.Println("  /timeout <seconds>        - Per-test time limit, 0 disables")
	fmt.Println("  /save [force]             - Save now, force bypasses the sync interval")
	fmt.Println("  /quit                     - Exit")
}

func (r *repl) reload(ctx context.Context) error {
	if r.codeFile == "" {
		return errors.New("no solution file given")
	}
	data, err := os.ReadFile(r.codeFile)
	if err != nil {
		return err
	}
	if code := string(data); code != r.sess.Snapshot().Code {
		return r.sess.Dispatch(ctx, practice.CodeChanged{Code: code})
	}
	return nil
}

func (r *repl) run(ctx context.Context) error {
	if r.codeFile != "" {
		if err := r.reload(ctx); err != nil {
			return err
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	if err := r.sess.Dispatch(runCtx, practice.RunRequested{}); err != nil {
		return err
	}
	fmt.Printf("\n%s\n", r.sess.Status())
	return nil
}

// testAt resolves a 1-based position in the full test list.
func (r *repl) testAt(args []string) (practice.Test, error) {
	if len(args) == 0 {
		return practice.Test{}, errors.New("missing test number")
	}
	n, err := strconv.Atoi(args[0])
	tests := r.sess.Snapshot().Tests
	if err != nil || n < 1 || n > len(tests) {
		return practice.Test{}, fmt.Errorf("no test %s (1-%d)", args[0], len(tests))
	}
	return tests[n-1], nil
}

func (r *repl) listTests(all bool) {
	snap := r.sess.Snapshot()
	visible := make(map[string]bool)
	for _, t := range r.sess.Visible() {
		visible[t.ID] = true
	}
	shown := 0
	for i, t := range snap.Tests {
		if !all && !visible[t.ID] {
			continue
		}
		shown++
		kind := "custom"
		if t.Sample {
			kind = "sample"
		}
		fmt.Printf("%s %2d %-6s %s\n", outcomeMark(t.Outcome), i+1, kind, formatFields(snap.Signature, t.Case))
	}
	if hidden := len(snap.Tests) - shown; hidden > 0 {
		fmt.Printf("\033[90m(%d hidden, /tests all shows them)\033[0m\n", hidden)
	}
}

func outcomeMark(o verdict.Outcome) string {
	switch o {
	case verdict.Passed:
		return "\033[32m✓\033[0m"
	case verdict.Failed:
		return "\033[31m✗\033[0m"
	default:
		return "\033[90m·\033[0m"
	}
}

func (r *repl) showTest(args []string) error {
	t, err := r.testAt(args)
	if err != nil {
		return err
	}
	sig := r.sess.Snapshot().Signature
	fmt.Println(sig.Call(t.Case.Args, 40))
	if t.Case.Return != nil {
		fmt.Printf("expected: %s\n", t.Case.Return.String())
	}
	if t.Case.Stdin != nil && *t.Case.Stdin != "" {
		fmt.Printf("stdin:    %q\n", *t.Case.Stdin)
	}
	if t.Case.Stdout != nil {
		fmt.Printf("stdout:   %q\n", *t.Case.Stdout)
	}
	if t.Record == nil {
		fmt.Println("(not run)")
		return nil
	}
	fmt.Printf("outcome:  %s\n", t.Outcome)
	if t.Record.Error != "" {
		fmt.Printf("error:\n%s\n", t.Record.Error)
	}
	if len(t.Record.Return) > 0 {
		fmt.Printf("returned: %s\n", string(t.Record.Return))
	}
	if t.Record.Stdout != nil {
		fmt.Printf("printed:  %q\n", *t.Record.Stdout)
	}
	return nil
}

func (r *repl) addTest(ctx context.Context, args []string) error {
	sig := r.sess.Snapshot().Signature
	tc, err := applyFields(sig, sig.NewTestCase(), args)
	if err != nil {
		return err
	}
	if err := r.sess.Dispatch(ctx, practice.TestAdded{Case: &tc}); err != nil {
		return err
	}
	fmt.Printf("Added test %d\n", len(r.sess.Snapshot().Tests))
	return nil
}

func (r *repl) setTest(ctx context.Context, args []string) error {
	t, err := r.testAt(args)
	if err != nil {
		return err
	}
	tc, err := applyFields(r.sess.Snapshot().Signature, t.Case, args[1:])
	if err != nil {
		return err
	}
	return r.sess.Dispatch(ctx, practice.TestUpdated{ID: t.ID, Case: tc})
}

func (r *repl) removeTest(ctx context.Context, args []string) error {
	t, err := r.testAt(args)
	if err != nil {
		return err
	}
	return r.sess.Dispatch(ctx, practice.TestRemoved{ID: t.ID})
}

func (r *repl) hide(ctx context.Context, args []string) error {
	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		return errors.New("usage: /hide passed|sample on|off")
	}
	on := args[1] == "on"
	var s practice.Settings
	switch args[0] {
	case "passed":
		s.HidePassed = &on
	case "sample", "samples":
		s.HideSample = &on
	default:
		return fmt.Errorf("unknown filter %q", args[0])
	}
	return r.sess.Dispatch(ctx, practice.SettingsChanged{Settings: s})
}

func (r *repl) timeout(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Printf("Timeout: %ds\n", r.sess.Snapshot().Timeout)
		return nil
	}
	secs, err := strconv.Atoi(args[0])
	if err != nil || secs < 0 {
		return fmt.Errorf("invalid timeout %q", args[0])
	}
	return r.sess.Dispatch(ctx, practice.SettingsChanged{Settings: practice.Settings{Timeout: &secs}})
}
