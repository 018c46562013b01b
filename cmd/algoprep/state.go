package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/algoprep/internal/storage"
	"github.com/michaelbrown/algoprep/internal/task"
)

var (
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var stateCmd = &cobra.Command{
	Use:     "state",
	Aliases: []string{"s"},
	Short:   "Inspect and sync saved task state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with saved state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show the saved code, settings and tests of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateSyncCmd = &cobra.Command{
	Use:   "sync <slug>",
	Short: "Push saved state to the remote store",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateSync,
}

var stateDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete the cached state of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateDelete,
}

var stateExportCmd = &cobra.Command{
	Use:   "export <slug>",
	Short: "Export saved state as markdown, JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateExport,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateListCmd, stateShowCmd, stateSyncCmd, stateDeleteCmd, stateExportCmd)

	stateListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max entries to show")

	stateSyncCmd.Flags().BoolVar(&forceFlag, "force", false, "Push every document regardless of the sync interval")
	stateDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")

	stateExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md, json or yaml")
	stateExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func runStateList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, cache, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	states, err := store.Cache().ListStates(context.Background())
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Println("No saved state found.")
		return nil
	}
	if limitFlag > 0 && len(states) > limitFlag {
		states = states[:limitFlag]
	}

	fmt.Printf("%-30s %-12s %s\n", "SLUG", "UPDATED", "SYNCED")
	fmt.Println(strings.Repeat("─", 60))
	for _, s := range states {
		synced := "never"
		if !s.LastSync.IsZero() {
			synced = timeAgo(s.LastSync)
		}
		fmt.Printf("%-30s %-12s %s\n", truncate(s.Slug, 28), timeAgo(s.UpdatedAt), synced)
	}
	return nil
}

// loadState reads the state of slug through the manager so a cache miss
// falls back to the remote store.
func loadState(slug string) (*storage.UserState, *task.Signature, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	store, cache, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		store.Wait()
		cache.Close()
	}
	st, err := store.Load(context.Background(), slug)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	var sig *task.Signature
	if desc, err := newCatalog(cfg).Get(slug); err == nil {
		sig = &desc.Signature
	}
	return st, sig, closeFn, nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	st, sig, closeFn, err := loadState(args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	fmt.Printf("Task:        %s\n", args[0])
	if st.LastSaved > 0 {
		fmt.Printf("Saved:       %s\n", time.UnixMilli(st.LastSaved).Format(time.RFC3339))
	}
	fmt.Printf("Hide passed: %t\n", st.HidePassed)
	fmt.Printf("Hide sample: %t\n", st.HideSample)
	fmt.Printf("Timeout:     %ds\n", st.Timeout)
	fmt.Printf("\nCode:\n")
	fmt.Println(strings.Repeat("─", 60))
	fmt.Println(strings.TrimRight(st.Code, "\n"))
	fmt.Println(strings.Repeat("─", 60))

	fmt.Printf("\nCustom tests: %d\n", len(st.Tests))
	for i, tc := range st.Tests {
		call := fmt.Sprintf("%d args", len(tc.Args))
		if sig != nil {
			call = sig.Call(tc.Args, 60)
		}
		if tc.Return != nil {
			call += " == " + tc.Return.String()
		}
		fmt.Printf("  \033[90m%d.\033[0m %s\n", i+1, truncate(call, 200))
	}
	return nil
}

func runStateSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, cache, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	ctx := context.Background()
	st, err := store.Cache().LoadState(ctx, args[0])
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no saved state for %s", args[0])
	}

	res, err := store.Save(ctx, args[0], st, storage.SaveOptions{Force: forceFlag})
	if err != nil {
		return err
	}
	switch {
	case res.Skipped:
		fmt.Printf("Skipped: %s\n", res.Reason)
	default:
		for _, p := range res.Pushed {
			fmt.Printf("  \033[32m↑\033[0m %s\n", p)
		}
		for _, p := range res.Failed {
			fmt.Printf("  \033[31m✗\033[0m %s\n", p)
		}
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d documents failed to sync", len(res.Failed))
	}
	return nil
}

func runStateDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	if !forceFlag {
		fmt.Printf("Delete cached state of %s? The remote copy is kept. [y/N] ", args[0])
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := cache.DeleteState(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted cached state of %s\n", args[0])
	return nil
}

func runStateExport(cmd *cobra.Command, args []string) error {
	st, sig, closeFn, err := loadState(args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(args[0], st)
		if err != nil {
			return err
		}
		output = string(data)
	case "yaml", "yml":
		data, err := storage.ExportYAML(args[0], st)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(args[0], st, sig)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
