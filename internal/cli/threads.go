package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

// NewThreadsCommand creates the threads command group.
func NewThreadsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Thread groupings and one-shot suggestions",
	}
	cmd.AddCommand(newThreadsListCommand(rootOpts))
	cmd.AddCommand(newThreadsSuggestCommand(rootOpts))
	cmd.AddCommand(newThreadsAcceptCommand(rootOpts))
	cmd.AddCommand(newThreadsDismissCommand(rootOpts))
	return cmd
}

func newThreadsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List threads",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			threads, err := a.store.GetAllThreads(cmd.Context())
			if err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Print(threads, func(w io.Writer) {
				for _, th := range threads {
					fmt.Fprintf(w, "%s  %s (%d members)\n", th.ID, th.Title, len(th.MemberIDs))
				}
			})
		},
	}
}

func newThreadsSuggestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "suggest",
		Short:        "Show candidate thread groupings",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			sugs, err := a.discovery.Suggest(cmd.Context())
			if err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Print(sugs, func(w io.Writer) {
				if len(sugs) == 0 {
					fmt.Fprintln(w, "no suggestions")
					return
				}
				for i, s := range sugs {
					fmt.Fprintf(w, "%d. %s (%s, confidence %.2f)\n", i+1, s.Title, s.Strategy, s.Confidence)
					for _, id := range s.MemberIDs {
						fmt.Fprintf(w, "   %s\n", id)
					}
				}
			})
		},
	}
}

func newThreadsAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "accept <suggestion-number>",
		Short:        "Turn a suggestion into a real thread",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("argument must be a suggestion number from 'threads suggest'")
			}

			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			sugs, err := a.discovery.Suggest(cmd.Context())
			if err != nil {
				return err
			}
			if n > len(sugs) {
				return fmt.Errorf("only %d suggestion(s) available", len(sugs))
			}

			threadID, err := a.discovery.Accept(cmd.Context(), sugs[n-1])
			if err != nil {
				return err
			}
			newFormatter(rootOpts, cmd.OutOrStdout()).Line("created thread %s", threadID)
			return nil
		},
	}
}

func newThreadsDismissCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss",
		Short: "Permanently dismiss thread suggestions",
		Long: `Dismiss thread suggestions for good. This cannot be undone:
suggestions never appear again in this journal, no matter how many
reflections are added later.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.discovery.Dismiss(cmd.Context()); err != nil {
				return err
			}
			newFormatter(rootOpts, cmd.OutOrStdout()).Line("thread suggestions dismissed permanently")
			return nil
		},
	}
}
