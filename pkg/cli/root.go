package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"athena-runner/internal/athena"
	"athena-runner/internal/config"
	"athena-runner/internal/domain"
	"athena-runner/internal/engine"
)

var (
	version = "dev"
	commit  = "none"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// ServiceFactory builds the query service a command talks to.
type ServiceFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.QueryService, error)

// NewAthenaService is the production ServiceFactory.
func NewAthenaService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.QueryService, error) {
	return athena.New(ctx, athena.Config{
		Database:          cfg.Database,
		Catalog:           cfg.Catalog,
		Workgroup:         cfg.Workgroup,
		OutputLocation:    cfg.OutputLocation,
		Region:            cfg.Region,
		Endpoint:          cfg.Endpoint,
		AccessKeyID:       cfg.AccessKeyID,
		SecretAccessKey:   cfg.SecretAccessKey,
		SessionToken:      cfg.SessionToken,
		RequestsPerSecond: cfg.APIRPS,
	}, logger)
}

// app carries what PersistentPreRunE resolves for the subcommands.
type app struct {
	newService ServiceFactory
	cfg        *config.Config
	logger     *slog.Logger
}

func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	svc, err := a.newService(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to query service: %w", err)
	}
	return engine.New(svc, engine.Options{
		ResultsRoot:  a.cfg.ResultsDir,
		PollInterval: a.cfg.PollInterval,
		MaxWait:      a.cfg.MaxWait,
		Retry: engine.RetryPolicy{
			MaxRetries:    a.cfg.MaxPollRetries,
			Base:          a.cfg.RetryBase,
			Cap:           engine.DefaultRetryCap,
			JitterPercent: engine.DefaultRetryJitter,
		},
		SaveSQL: a.cfg.SaveSQL,
		Logger:  a.logger,
	}), nil
}

// Execute runs the CLI.
func Execute() int {
	return run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, NewAthenaService)
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, factory ServiceFactory) int {
	rootCmd := newRootCmd(factory)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(stdout, map[string]interface{}{
				"error":     err.Error(),
				"kind":      domain.Kind(err),
				"retryable": domain.Retryable(err),
			})
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(factory ServiceFactory) *cobra.Command {
	var (
		cfgFile string
		output  string
	)
	a := &app{newService: factory}

	rootCmd := &cobra.Command{
		Use:           "athenaq",
		Short:         "Run read-only Athena queries and save their results",
		Long:          "Submits read-only SQL to Amazon Athena, waits for completion, and stores each result under results/<request-id>/<filename>.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}

			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cmd.ErrOrStderr(), cfg)
			for _, w := range cfg.Warnings {
				a.logger.Warn(w)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./"+config.DefaultFile+" if present)")
	pf.StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	pf.String("database", "", "Athena database")
	pf.String("catalog", "", "Athena data catalog")
	pf.String("workgroup", "", "Athena workgroup")
	pf.String("output-location", "", "S3 prefix Athena writes results to (s3://bucket/prefix/)")
	pf.String("region", "", "AWS region")
	pf.String("endpoint", "", "Custom AWS endpoint URL")
	pf.String("results-dir", "", "Local root for result artifacts")
	pf.Duration("poll-interval", 0, "Time between status checks")
	pf.Duration("max-wait", 0, "Give up waiting after this long")
	pf.Bool("save-sql", true, "Write the submitted SQL next to each result")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(newQueryCmd(a))
	rootCmd.AddCommand(newBatchCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newCancelCmd(a))
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "completion [bash|zsh|fish|powershell]",
		Short:       "Generate shell completion scripts",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(w)
			case "zsh":
				return cmd.Root().GenZshCompletion(w)
			case "fish":
				return cmd.Root().GenFishCompletion(w, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(w)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
