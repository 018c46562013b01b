package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"task", "t"},
	Short:   "Browse the task catalog",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available tasks",
	RunE:  runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Show a task with its signature and examples",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tasks, err := newCatalog(cfg).List()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Printf("No tasks found in %s.\n", cfg.Tasks.Dir)
		return nil
	}

	fmt.Printf("%-24s %-40s %s\n", "SLUG", "TITLE", "CONTRIBUTOR")
	fmt.Println(strings.Repeat("─", 80))
	for _, t := range tasks {
		by := ""
		if t.Contributor != nil {
			by = t.Contributor.Name
		}
		fmt.Printf("%-24s %-40s %s\n", truncate(t.Slug, 22), truncate(t.Title, 38), by)
	}
	return nil
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	desc, err := resolveTask(cfg, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", desc.Title)
	fmt.Println(strings.Repeat("─", 60))
	if desc.Description != "" {
		fmt.Printf("%s\n\n", strings.TrimSpace(desc.Description))
	}
	fmt.Printf("%s\n", desc.Signature.Def())
	if examples := desc.Examples(3); len(examples) > 0 {
		fmt.Println("\nExamples:")
		for _, ex := range examples {
			fmt.Printf("  %s\n", strings.ReplaceAll(ex, "\n", "\n  "))
		}
	}
	fmt.Printf("\nSample tests: %d\n", len(desc.Tests))
	if c := desc.Contributor; c != nil {
		if c.GitHub != "" {
			fmt.Printf("Contributed by %s (github.com/%s)\n", c.Name, c.GitHub)
		} else {
			fmt.Printf("Contributed by %s\n", c.Name)
		}
	}
	return nil
}
