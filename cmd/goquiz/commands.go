package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/goquiz/internal/app"
	"github.com/hyperifyio/goquiz/internal/extract"
	"github.com/hyperifyio/goquiz/internal/store"
)

func newServeCmd(c *cli) *cobra.Command {
	var listen, corsOrigin, relayURL string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API: relay, website parser and quiz functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("listen") {
				c.cfg.ListenAddr = listen
			}
			if f.Changed("cors-origin") {
				c.cfg.CORSOrigin = corsOrigin
			}
			if f.Changed("relay-url") {
				c.cfg.RelayURL = relayURL
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", app.DefaultListenAddr, "Address to listen on")
	cmd.Flags().StringVar(&corsOrigin, "cors-origin", app.DefaultCORSOrigin, "Allowed CORS origins, comma separated, or *")
	cmd.Flags().StringVar(&relayURL, "relay-url", "", "Relay endpoint used by the extraction pipeline")
	return cmd
}

// extractFlags are shared by extract and generate.
type extractFlags struct {
	direct bool
	cursor int
	resume bool
	mode   string
}

func (e *extractFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&e.direct, "direct", false, "Fetch the site directly instead of through the relay and proxies")
	cmd.Flags().IntVar(&e.cursor, "cursor", app.NoCursor, "Start the proxy chain at this index")
	cmd.Flags().BoolVar(&e.resume, "resume", false, "Continue from the proxy cursor saved by the previous run")
	cmd.Flags().StringVar(&e.mode, "mode", "", "Extraction mode: selector or readability")
}

func (e *extractFlags) apply(cmd *cobra.Command, c *cli) app.ExtractOptions {
	if cmd.Flags().Changed("mode") {
		c.cfg.ExtractMode = e.mode
	}
	return app.ExtractOptions{Direct: e.direct, Cursor: e.cursor, Resume: e.resume}
}

func newExtractCmd(c *cli) *cobra.Command {
	var ef extractFlags
	cmd := &cobra.Command{
		Use:   "extract URL",
		Short: "Print the readable title and text of a web page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ef.apply(cmd, c)
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Extract(cmd.Context(), args[0], opts)
			if err != nil {
				extractionHint(err)
				return err
			}
			c.printf("# %s\n\n%s\n", res.Title, res.Content)
			return nil
		},
	}
	ef.register(cmd)
	return cmd
}

func newGenerateCmd(c *cli) *cobra.Command {
	var (
		ef          extractFlags
		title       string
		description string
		questions   int
	)
	cmd := &cobra.Command{
		Use:   "generate URL",
		Short: "Generate a quiz from a web page and save it to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ef.apply(cmd, c)
			if cmd.Flags().Changed("questions") {
				c.cfg.Questions = questions
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			q, err := a.Generate(cmd.Context(), args[0], app.GenerateOptions{
				ExtractOptions: opts,
				QuizTitle:      title,
				Description:    description,
			})
			if err != nil {
				extractionHint(err)
				return err
			}
			c.printf("%s\t%s\t%d questions\n", q.ID, q.Title, len(q.Questions))
			return nil
		},
	}
	ef.register(cmd)
	cmd.Flags().StringVarP(&title, "title", "t", "", "Quiz title; defaults to the page title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Quiz description")
	cmd.Flags().IntVarP(&questions, "questions", "n", 0, "Number of questions to ask for")
	return cmd
}

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved quizzes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			quizzes := a.Quizzes.List()
			if len(quizzes) == 0 {
				c.printf("no quizzes\n")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tQUESTIONS\tBEST\tCREATED")
			best := a.Scores.BestScoresByQuiz()
			for _, q := range quizzes {
				b := "-"
				if s, ok := best[q.ID]; ok {
					b = fmt.Sprintf("%.0f%%", s.Percentage)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", q.ID, q.Title, len(q.Questions), b, q.CreatedAt.Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Delete a quiz from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Quizzes.Remove(args[0]); err != nil {
				return err
			}
			c.printf("removed %s\n", args[0])
			return nil
		},
	}
}

func newExportCmd(c *cli) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Write a quiz as JSON or a printable PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			path, err := a.ExportFile(args[0], format, out)
			if err != nil {
				return err
			}
			c.printf("%s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format: json or pdf")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file or directory; defaults to a name derived from the title")
	return cmd
}

func newImportCmd(c *cli) *cobra.Command {
	var preserve bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Add a quiz from an exported JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			q, err := a.ImportFile(args[0], preserve)
			if err != nil {
				return err
			}
			c.printf("%s\t%s\t%d questions\n", q.ID, q.Title, len(q.Questions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&preserve, "preserve-id", false, "Keep the id stored in the file instead of assigning a new one")
	return cmd
}

func newTakeCmd(c *cli) *cobra.Command {
	var answers []int
	cmd := &cobra.Command{
		Use:   "take ID",
		Short: "Answer a quiz and record the score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Take(args[0], answers)
			if err != nil {
				return err
			}
			at := res.Attempt
			c.printf("score %d/%d (%.0f%%)\n", at.Score, at.TotalQuestions, store.Percentage(at.Score, at.TotalQuestions))
			if res.Score == nil {
				c.printf("not recorded: create a profile first\n")
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVarP(&answers, "answers", "a", nil, "Chosen option per question, 0-based, comma separated")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

func newScoresCmd(c *cli) *cobra.Command {
	var quizID string
	var clearHistory bool
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Show or clear the current user's score history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if clearHistory {
				if err := a.Scores.ClearHistory(); err != nil {
					return err
				}
				c.printf("score history cleared\n")
				return nil
			}
			scores := a.Scores.UserScores()
			if quizID != "" {
				scores = a.Scores.HistoryForQuiz(quizID)
			}
			if len(scores) == 0 {
				c.printf("no scores\n")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUIZ\tTITLE\tSCORE\tPERCENT\tCOMPLETED")
			for _, s := range scores {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%.0f%%\t%s\n", s.QuizID, s.QuizTitle, s.Score, s.TotalQuestions, s.Percentage, s.CompletedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&quizID, "quiz", "", "Only show attempts for this quiz")
	cmd.Flags().BoolVar(&clearHistory, "clear", false, "Delete the current user's history")
	return cmd
}

func newProfileCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the local user profile",
	}

	var name, email, description string
	var interests []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create or replace the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			p, err := a.Profile.Create(name, email, description, interests)
			if err != nil {
				return err
			}
			c.printf("created profile %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().StringVar(&email, "email", "", "Email, used for the Gravatar image")
	create.Flags().StringVar(&description, "description", "", "Short description")
	create.Flags().StringSliceVar(&interests, "interests", nil, "Comma separated interests")
	_ = create.MarkFlagRequired("name")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			p, ok := a.Profile.Current()
			if !ok {
				c.printf("%s (no profile)\n", store.GuestName)
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Name\t%s\n", p.Name)
			if p.Email != "" {
				fmt.Fprintf(tw, "Email\t%s\n", p.Email)
			}
			if p.Description != "" {
				fmt.Fprintf(tw, "Description\t%s\n", p.Description)
			}
			if len(p.Interests) > 0 {
				fmt.Fprintf(tw, "Interests\t%s\n", strings.Join(p.Interests, ", "))
			}
			fmt.Fprintf(tw, "Theme\t%s\n", p.Preferences.Theme)
			fmt.Fprintf(tw, "Avatar\t%s\n", a.Profile.Gravatar(store.DefaultGravatarSize))
			fmt.Fprintf(tw, "Quizzes taken\t%d\n", len(a.Scores.UserScores()))
			return tw.Flush()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the profile; score history is kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Profile.Clear(); err != nil {
				return err
			}
			c.printf("profile cleared\n")
			return nil
		},
	}

	cmd.AddCommand(create, show, clearCmd)
	return cmd
}

// extractionHint logs which knobs to try after a failed extraction.
func extractionHint(err error) {
	if errors.Is(err, app.ErrExtractionFailed) {
		log.Info().Msgf("retry with --direct, --resume or --mode %s", extract.ModeReadability)
	}
}
