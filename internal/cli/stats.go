package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "stats",
		Short:        "Show collection sizes",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Print(stats, func(w io.Writer) {
				fmt.Fprintf(w, "reflections:     %d\n", stats.Reflections)
				fmt.Fprintf(w, "threads:         %d\n", stats.Threads)
				fmt.Fprintf(w, "identity axes:   %d\n", stats.IdentityAxes)
				fmt.Fprintf(w, "consent records: %d\n", stats.ConsentRecords)
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record in the journal",
		Long: `Delete every record: reflections, threads, identity axes,
settings, consent history and boundary toggles. Export first if you
might ever want the data back.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to clear without --yes")
			}

			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.ClearAll(cmd.Context()); err != nil {
				return err
			}
			newFormatter(rootOpts, cmd.OutOrStdout()).Line("journal cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm deletion of all data")
	return cmd
}
