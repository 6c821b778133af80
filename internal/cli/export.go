package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kittclouds/sovereign/internal/store"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:          "export",
		Short:        "Export the whole journal as a snapshot file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.store.ExportAll(cmd.Context())
			if err != nil {
				return err
			}
			data, err := store.EncodeSnapshot(snap)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(out, data, 0600); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			newFormatter(rootOpts, cmd.OutOrStdout()).Line(
				"exported %d reflections to %s", len(snap.Reflections), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot-file>",
		Short: "Import a snapshot, record by record",
		Long: `Import a snapshot produced by export. Records whose identifier
already exists are skipped; importing the same snapshot twice is safe.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			snap, err := store.DecodeSnapshot(data)
			if err != nil {
				return err
			}

			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			outcomes, err := a.store.ImportAll(cmd.Context(), snap)
			if err != nil {
				return err
			}

			return newFormatter(rootOpts, cmd.OutOrStdout()).Print(outcomes, func(w io.Writer) {
				var added, skipped, failed int
				for _, o := range outcomes {
					switch o.Status {
					case store.ImportAdded:
						added++
					case store.ImportSkipped:
						skipped++
					case store.ImportFailed:
						failed++
						fmt.Fprintf(w, "failed %s/%s: %s\n", o.Collection, o.ID, o.Err)
					}
				}
				fmt.Fprintf(w, "added %d, skipped %d, failed %d\n", added, skipped, failed)
			})
		},
	}
}
