package search

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/entityindex/internal/analysis"
	"github.com/tphakala/entityindex/internal/buildinfo"
	"github.com/tphakala/entityindex/internal/conf"
	entitysearch "github.com/tphakala/entityindex/internal/search"
)

// Command creates the command searching processed videos by entity.
func Command(settings *conf.Settings, build *buildinfo.Info) *cobra.Command {
	opts := entitysearch.Options{}
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search processed videos by entity",
		Long:  "Find completed videos showing the comma separated entities in query, expanded with similar labels from the label index.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := analysis.New(cmd.Context(), settings, build)
			if err != nil {
				return err
			}
			defer app.Close()

			if opts.Similarity == 0 {
				opts.Similarity = settings.LabelIndex.Similarity
			}
			resp, err := app.Search.Search(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().Float64Var(&opts.Similarity, "similarity", viper.GetFloat64("labelindex.similarity"), "Minimum label similarity for suggested entities")
	cmd.Flags().Float64Var(&opts.MinPresence, "min-presence", 0, "Minimum fraction of frames an entity must appear in")
	cmd.Flags().IntVar(&opts.MinFrames, "min-frames", 0, "Minimum number of frames an entity must appear in")

	if err := viper.BindPFlag("labelindex.similarity", cmd.Flags().Lookup("similarity")); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}

	return cmd
}
