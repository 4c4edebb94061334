package cli

import (
	"github.com/spf13/cobra"

	"github.com/learnfeed/learnfeed-go/pkg/core"
)

func newFeedCmd(g *globalFlags) *cobra.Command {
	var (
		count      int
		categories []string
		ids        []string
		exclude    []string
	)

	cmd := &cobra.Command{
		Use:   "feed <learner-id>",
		Short: "Generate a personalized feed",
		Long: `Rank catalog content for a learner and print the feed as JSON.

Examples:
  learnfeed feed learner_001 --count 10
  learnfeed feed learner_001 --category travel --category food
  learnfeed feed learner_001 --ids v01,v02,v03`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			var opts []core.FeedOption
			if count > 0 {
				opts = append(opts, core.WithCount(count))
			}
			if len(categories) > 0 {
				opts = append(opts, core.WithCategories(categories...))
			}
			if len(ids) > 0 {
				opts = append(opts, core.WithCandidateIDs(ids...))
			}
			if len(exclude) > 0 {
				opts = append(opts, core.WithExcludedIDs(exclude...))
			}

			feed, err := engine.GenerateFeed(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			return g.printJSON(cmd, feed)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of items (default: engine feed_count)")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Restrict to categories")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Restrict to content IDs")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Exclude content IDs")
	return cmd
}
