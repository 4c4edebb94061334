package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/learnfeed/learnfeed-go/pkg/core"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

func newTrackCmd(g *globalFlags) *cobra.Command {
	var (
		eventFile  string
		contentID  string
		level      string
		category   string
		creatorID  string
		watch      float64
		duration   float64
		scrolled   bool
		correct    string
		difficulty float64
		response   time.Duration
		words      []string
	)

	cmd := &cobra.Command{
		Use:   "track <learner-id> [action]",
		Short: "Record a learner interaction",
		Long: `Record one interaction and print what each model updated.

The event is built from flags, or read as JSON with --event (use - for stdin).

Actions: view, complete, rewatch, like, share, comment, save, follow, quiz,
practice, login, session, freeze.

Examples:
  learnfeed track learner_001 view --content v01 --watch 12 --duration 30
  learnfeed track learner_001 quiz --correct true --word hola --word gracias
  learnfeed track learner_001 login
  echo '{"action":"session","session":{"accuracy":0.9}}' | learnfeed track learner_001 --event -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var event core.InteractionEvent
			if eventFile != "" {
				data, err := readInput(cmd, eventFile)
				if err != nil {
					return fmt.Errorf("read event: %w", err)
				}
				if err := json.Unmarshal(data, &event); err != nil {
					return fmt.Errorf("parse event: %w", err)
				}
			}
			if len(args) == 2 {
				event.Action = core.Action(args[1])
			}
			if event.Action == "" {
				return fmt.Errorf("an action is required")
			}

			if contentID != "" {
				event.ContentID = contentID
			}
			if level != "" {
				l, err := intelligence.ParseLevel(level)
				if err != nil {
					return err
				}
				event.ContentLevel = l
			}
			if category != "" {
				event.Category = category
			}
			if creatorID != "" {
				event.CreatorID = creatorID
			}
			if watch > 0 {
				event.WatchSeconds = watch
			}
			if duration > 0 {
				event.DurationSeconds = duration
			}
			if scrolled {
				event.ScrolledAway = true
			}
			if correct != "" {
				b, err := strconv.ParseBool(correct)
				if err != nil {
					return fmt.Errorf("--correct: %w", err)
				}
				event.Correct = &b
			}
			if difficulty > 0 {
				event.Difficulty = difficulty
			}
			if response > 0 {
				event.ResponseTime = response
			}
			for _, w := range words {
				event.Words = append(event.Words, core.WordPractice{Word: w})
			}

			engine, err := g.openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.TrackInteraction(cmd.Context(), args[0], event)
			if err != nil {
				if result != nil {
					_ = g.printJSON(cmd, result)
				}
				return err
			}
			return g.printJSON(cmd, result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&eventFile, "event", "", "Read the event as JSON from a file (- for stdin)")
	f.StringVar(&contentID, "content", "", "Content ID")
	f.StringVar(&level, "level", "", "Content level override (A1-C2)")
	f.StringVar(&category, "category", "", "Content category override")
	f.StringVar(&creatorID, "creator", "", "Creator ID")
	f.Float64Var(&watch, "watch", 0, "Seconds watched")
	f.Float64Var(&duration, "duration", 0, "Content duration in seconds")
	f.BoolVar(&scrolled, "scrolled", false, "The viewer scrolled away")
	f.StringVar(&correct, "correct", "", "Grade the interaction: true or false")
	f.Float64Var(&difficulty, "difficulty", 0, "Difficulty 0-10")
	f.DurationVar(&response, "response-time", 0, "Response time, e.g. 2.5s")
	f.StringArrayVarP(&words, "word", "w", nil, "Practiced word (repeatable, counted correct)")
	return cmd
}
