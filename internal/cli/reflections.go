package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kittclouds/sovereign/internal/store"
)

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		layer    string
		modality string
		tags     []string
		axisID   string
		hidden   bool
	)

	cmd := &cobra.Command{
		Use:          "add <content>",
		Short:        "Add a reflection",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if layer == "" {
				layer = a.cfg.DefaultLayer
			}
			if modality == "" {
				modality = a.cfg.DefaultModality
			}

			r := store.Reflection{
				ID:             uuid.NewString(),
				Content:        args[0],
				Layer:          store.Layer(layer),
				Modality:       modality,
				Tags:           tags,
				IdentityAxisID: axisID,
				Visible:        !hidden,
			}
			if err := a.store.AddReflection(cmd.Context(), r); err != nil {
				return err
			}
			newFormatter(rootOpts, cmd.OutOrStdout()).Line("added %s", r.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "layer (sovereign|commons|builder)")
	cmd.Flags().StringVar(&modality, "modality", "", "modality tag")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&axisID, "axis", "", "identity axis id")
	cmd.Flags().BoolVar(&hidden, "hidden", false, "mark the reflection not visible")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		layer      string
		unthreaded bool
		since      string
	)

	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List reflections",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var reflections []store.Reflection
			switch {
			case unthreaded:
				reflections, err = a.store.GetUnthreadedReflections(ctx)
			case layer != "":
				reflections, err = a.store.GetReflectionsByIndex(ctx, store.ReflectionByLayer, store.Layer(layer))
			case since != "":
				var t time.Time
				t, err = time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since value: %w", err)
				}
				reflections, err = a.store.GetReflectionsByIndex(ctx, store.ReflectionByCreated, t)
			default:
				reflections, err = a.store.GetAllReflections(ctx)
			}
			if err != nil {
				return err
			}

			return newFormatter(rootOpts, cmd.OutOrStdout()).Print(reflections, func(w io.Writer) {
				for _, r := range reflections {
					fmt.Fprintf(w, "%s  [%s]  %s\n", r.ID, r.Layer, summarize(r.Content))
				}
			})
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "only this layer")
	cmd.Flags().BoolVar(&unthreaded, "unthreaded", false, "only reflections with no thread")
	cmd.Flags().StringVar(&since, "since", "", "only reflections created at or after this RFC 3339 time")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "delete <id>",
		Short:        "Delete a reflection",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteReflection(cmd.Context(), args[0]); err != nil {
				return err
			}
			newFormatter(rootOpts, cmd.OutOrStdout()).Line("deleted %s", args[0])
			return nil
		},
	}
}

func summarize(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	runes := []rune(content)
	if len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return content
}
