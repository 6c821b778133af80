package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kittclouds/sovereign/internal/store"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-layer sync status and boundaries",
		Long: `Show, for each layer, whether its sync boundary is open and what
the connection state would report. A one-shot invocation holds no live
sync session, so the state is offline unless a boundary check fails.`,
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

			type layerStatus struct {
				Layer   store.Layer `json:"layer"`
				Allowed bool        `json:"allowed"`
				Status  string      `json:"status"`
			}
			statuses := make([]layerStatus, 0, len(boundaries))
			for _, b := range boundaries {
				statuses = append(statuses, layerStatus{
					Layer:   b.Layer,
					Allowed: b.Allowed,
					Status:  string(a.detector.Status(b.Layer)),
				})
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Print(statuses, func(w io.Writer) {
				for _, s := range statuses {
					state := "closed"
					if s.Allowed {
						state = "open"
					}
					fmt.Fprintf(w, "%-10s %-7s %s\n", s.Layer, state, s.Status)
				}
			})
		},
	}
}
