package cli

import (
	"github.com/spf13/cobra"
)

func newDueCmd(g *globalFlags) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "due <learner-id>",
		Short: "List the learner's weakest vocabulary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			reviews, err := engine.GetDueReviews(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			return g.printJSON(cmd, reviews)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Maximum number of items")
	return cmd
}

func newDashboardCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard <learner-id>",
		Short: "Show level, streak, XP and memory strength",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			dash, err := engine.GetDashboard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return g.printJSON(cmd, dash)
		},
	}
}

func newPracticeCmd(g *globalFlags) *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "practice <learner-id>",
		Short: "Build a review session from the weakest items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			session, err := engine.GeneratePracticeSession(cmd.Context(), args[0], size)
			if err != nil {
				return err
			}
			return g.printJSON(cmd, session)
		},
	}
	cmd.Flags().IntVarP(&size, "size", "n", 10, "Number of items in the session")
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <learner-id>",
		Short: "Delete every record of a learner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.DeleteLearnerData(cmd.Context(), args[0]); err != nil {
				return err
			}
			return g.printJSON(cmd, map[string]interface{}{"ok": true, "learner_id": args[0]})
		},
	}
}
