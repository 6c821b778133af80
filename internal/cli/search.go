package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kittclouds/sovereign/internal/store"
	"github.com/kittclouds/sovereign/pkg/highlight"
)

// searchHit is one reflection with its match details.
type searchHit struct {
	ID       string              `json:"id"`
	Layer    store.Layer         `json:"layer"`
	Count    int                 `json:"count"`
	Contexts []highlight.Context `json:"contexts"`
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var window int

	cmd := &cobra.Command{
		Use:   "search <term>...",
		Short: "Search reflection content for literal terms",
		Long: `Search reflection content for one or more literal terms,
case-insensitively. Terms are plain text, never patterns; characters
like . or * match only themselves.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			reflections, err := a.store.GetAllReflections(cmd.Context())
			if err != nil {
				return err
			}

			var hits []searchHit
			for _, r := range reflections {
				if r.Encrypted {
					// Ciphertext is opaque to the store.
					continue
				}
				count := highlight.CountMatches(r.Content, args)
				if count == 0 {
					continue
				}
				hits = append(hits, searchHit{
					ID:       r.ID,
					Layer:    r.Layer,
					Count:    count,
					Contexts: highlight.ExtractContext(r.Content, args, window),
				})
			}

			return newFormatter(rootOpts, cmd.OutOrStdout()).Print(hits, func(w io.Writer) {
				for _, h := range hits {
					fmt.Fprintf(w, "%s  [%s]  %d match(es)\n", h.ID, h.Layer, h.Count)
					for _, c := range h.Contexts {
						fmt.Fprintf(w, "  ...%s[%s]%s...\n", c.Before, c.Match, c.After)
					}
				}
				if len(hits) == 0 {
					fmt.Fprintln(w, "no matches")
				}
			})
		},
	}

	cmd.Flags().IntVar(&window, "window", 0, "context runes per side (default 100)")
	return cmd
}
