package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neurovisor/neurovisor/internal/agent"
	"github.com/neurovisor/neurovisor/internal/output"
)

func addSessionsCommand(parent *cobra.Command) {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect saved agent sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		RunE:  runSessionsList,
	}

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print one session's full transcript",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsShow,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one saved session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsDelete,
	}

	sessionsCmd.AddCommand(listCmd, showCmd, deleteCmd)
	parent.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := agent.DefaultSessionStore()
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	summaries, err := store.List()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved sessions.")
		return nil
	}
	for _, s := range summaries {
		status := "in progress"
		if s.Complete {
			status = "complete"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]  iter=%d  %s\n", s.ID, status, s.Iterations, s.Task)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := agent.DefaultSessionStore()
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	session, err := store.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading session %s: %w", args[0], err)
	}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), session)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %s (model=%s, iterations=%d, complete=%v)\n",
		session.ID, session.Model, session.Iterations, session.Complete)
	fmt.Fprintf(cmd.OutOrStdout(), "task: %s\n\n", session.Task)
	for _, msg := range session.Messages {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", msg.Role, msg.Content)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := agent.DefaultSessionStore()
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	if err := store.Delete(args[0]); err != nil {
		return fmt.Errorf("deleting session %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Deleted session %s.\n", args[0])
	return nil
}
