package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/goquiz/internal/app"
)

// cli carries the persistent flags and the resolved configuration shared by
// every subcommand.
type cli struct {
	out io.Writer

	configPath string
	envFiles   []string
	dataDir    string
	cacheDir   string
	verbose    bool
	logFormat  string

	cfg app.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "goquiz",
		Short:         "Turn website content into multiple-choice quizzes",
		Version:       app.VersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "Path to a YAML or JSON config file")
	pf.StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "Dotenv files to load; later files win")
	pf.StringVar(&c.dataDir, "data-dir", "", "Directory for quizzes, scores and the profile")
	pf.StringVar(&c.cacheDir, "cache-dir", "", "Directory for cached model responses")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&c.logFormat, "log-format", "", "Log format: console or json")

	root.AddCommand(
		newServeCmd(c),
		newExtractCmd(c),
		newGenerateCmd(c),
		newListCmd(c),
		newRemoveCmd(c),
		newExportCmd(c),
		newImportCmd(c),
		newTakeCmd(c),
		newScoresCmd(c),
		newProfileCmd(c),
	)
	return root
}

// load resolves defaults, config file and environment, then applies the
// persistent flags the user actually set.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := app.LoadConfig(c.configPath, c.envFiles)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = c.dataDir
	}
	if flags.Changed("cache-dir") {
		cfg.CacheDir = c.cacheDir
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
	if c.verbose {
		cfg.LogLevel = "debug"
	}
	if err := app.SetupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	c.cfg = cfg
	log.Debug().Str("dataDir", cfg.DataDir).Str("cacheDir", cfg.CacheDir).Msg("configuration loaded")
	return nil
}

// open validates the final configuration, including subcommand overrides,
// and builds the application.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	if err := app.ValidateConfig(c.cfg); err != nil {
		return nil, err
	}
	return app.New(ctx, c.cfg)
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
