package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kittclouds/sovereign/internal/store"
)

// NewBoundaryCommand creates the boundary command group.
func NewBoundaryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boundary",
		Short: "Inspect and toggle per-layer sync boundaries",
		Long: `Sync boundaries decide which layers may ever leave this device.
Every layer starts closed; opening one is an explicit choice and never
retracts data already transmitted.`,
	}
	cmd.AddCommand(newBoundaryListCommand(rootOpts))
	cmd.AddCommand(newBoundarySetCommand(rootOpts))
	return cmd
}

func newBoundaryListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "Show every layer's boundary",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			boundaries, err := a.gate.Boundaries(cmd.Context())
			if err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Print(boundaries, func(w io.Writer) {
				for _, b := range boundaries {
					state := "closed"
					if b.Allowed {
						state = "open"
					}
					fmt.Fprintf(w, "%-10s %s\n", b.Layer, state)
				}
			})
		},
	}
}

func newBoundarySetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "set <layer> <true|false>",
		Short:        "Open or close a layer's boundary",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			allowed, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("second argument must be true or false: %w", err)
			}

			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			layer := store.Layer(args[0])
			if err := a.gate.SetBoundary(cmd.Context(), layer, allowed); err != nil {
				return err
			}
			state := "closed"
			if allowed {
				state = "open"
			}
			newFormatter(rootOpts, cmd.OutOrStdout()).Line("%s is now %s", layer, state)
			return nil
		},
	}
}
