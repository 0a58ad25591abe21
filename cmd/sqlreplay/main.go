package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/sqlreplay/internal/adapters/sink"
	"github.com/bft-labs/sqlreplay/internal/app"
	"github.com/bft-labs/sqlreplay/internal/category"
	"github.com/bft-labs/sqlreplay/internal/cliconfig"
	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/internal/spool"
	"github.com/bft-labs/sqlreplay/internal/stats"
	"github.com/bft-labs/sqlreplay/internal/trace"
	"github.com/bft-labs/sqlreplay/pkg/log"
)

const longHelp = `Replay captured SQL workloads against a database and compare latencies.

A capture is a JSON-lines file of {"sql": ..., "time": ...} records. Each
capture is replayed on its own connection with the original think times,
and every committed transaction's latency is written to the output file.
Two latency files from different systems can then be compared.`

var exampleUsage = strings.TrimSpace(`
  sqlreplay run --dsn postgres://bench@localhost/bench --trace client1.jsonl --output base.lat
  sqlreplay run --driver sqlite --dsn ./bench.db --trace a.jsonl.zst --trace b.jsonl --output exp.lat --category readwrite
  sqlreplay watch --dsn postgres://bench@localhost/bench --watch-dir /var/spool/captures
  sqlreplay compare --stat read base.lat exp.lat
  sqlreplay inspect client1.jsonl
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "sqlreplay",
		Short:         "Replay captured SQL workloads and measure transaction latency",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.sqlreplay/config.toml)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(&cfg, &cfgPath),
		newWatchCmd(&cfg, &cfgPath),
		newInspectCmd(&cfg),
		newCompareCmd(),
		newTemplatesCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		l := cliconfig.Logger(cfg.LogLevel)
		l.Error().Err(err).Msg("sqlreplay")
		os.Exit(1)
	}
}

// loadConfig layers the config file and SQLREPLAY_* variables under the
// flags that were set explicitly, then validates for command.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath, command string) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate(command)
}

func addReplayFlags(fs *pflag.FlagSet, cfg *cliconfig.Config) {
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "database driver (pgx, sqlite)")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "database connection string")
	fs.StringVar(&cfg.TimeUnit, "time-unit", cfg.TimeUnit, "unit of the capture time field (ns, us, ms, s)")
	fs.IntVar(&cfg.MaxTransactions, "max-transactions", cfg.MaxTransactions, "stop loading each trace after this many commits (0: no limit)")

	fs.IntVar(&cfg.ConnectAttempts, "connect-attempts", cfg.ConnectAttempts, "connection attempts before giving up")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "timeout of a single connection attempt")
	fs.IntVar(&cfg.Reconnects, "reconnects", cfg.Reconnects, "reconnect and resume this many times after a lost connection")

	fs.StringVar(&cfg.MigrationsDir, "migrations", cfg.MigrationsDir, "migrations directory used to reset the database before replay")
	fs.StringVar(&cfg.Category, "category", cfg.Category, "sample category (none, readwrite, template)")
	fs.StringVar(&cfg.TemplatesOut, "templates-out", cfg.TemplatesOut, "write the template id table here (category template)")
	fs.BoolVar(&cfg.TagStatements, "tag-statements", cfg.TagStatements, "prefix statements with a trace position comment")

	fs.StringVar(&cfg.Upload, "upload", cfg.Upload, "upload latency files to s3://bucket/key (a trailing / adds run id and file name)")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3-compatible endpoint (optional)")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", cfg.S3AccessKey, "S3 access key (default: AWS credential chain)")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", cfg.S3SecretKey, "S3 secret key")
}

// appConfig converts a validated CLI config.
func appConfig(cfg cliconfig.Config) (app.Config, error) {
	unit, err := cliconfig.ParseTimeUnit(cfg.TimeUnit)
	if err != nil {
		return app.Config{}, err
	}
	return app.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		Traces:          cfg.Traces,
		Output:          cfg.Output,
		TimeUnit:        unit,
		MaxTransactions: cfg.MaxTransactions,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectTimeout:  cfg.ConnectTimeout,
		Reconnects:      cfg.Reconnects,
		MigrationsDir:   cfg.MigrationsDir,
		Category:        cfg.Category,
		TemplatesOut:    cfg.TemplatesOut,
		TagStatements:   cfg.TagStatements,
		Progress:        cfg.Progress,
		Upload:          cfg.Upload,
		S3: sink.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay traces and record transaction latencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, *cfgPath, cliconfig.CommandRun); err != nil {
				return err
			}
			zl := cliconfig.Logger(cfg.LogLevel)
			zl.Info().Interface("config", cfg.Redacted()).Msg("configuration")

			ac, err := appConfig(*cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			_, err = app.Run(ctx, ac, app.WithLogger(log.NewZerologAdapterWithLogger(zl)))
			return err
		},
	}
	addReplayFlags(cmd.Flags(), cfg)
	cmd.Flags().StringArrayVar(&cfg.Traces, "trace", cfg.Traces, "capture file to replay, one session each (repeatable)")
	cmd.Flags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "latency output file")
	cmd.Flags().BoolVar(&cfg.Progress, "progress", cfg.Progress, "print replay progress to stderr (single trace only)")
	return cmd
}

func newWatchCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replay every capture dropped into a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, *cfgPath, cliconfig.CommandWatch); err != nil {
				return err
			}
			zl := cliconfig.Logger(cfg.LogLevel)
			zl.Info().Interface("config", cfg.Redacted()).Msg("configuration")

			ac, err := appConfig(*cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			zl.Info().Str("dir", cfg.WatchDir).Str("out_dir", cfg.OutDir).Msg("watching for captures")
			wc := app.WatchConfig{
				Dir:    cfg.WatchDir,
				OutDir: cfg.OutDir,
				Retention: spool.Retention{
					High: int64(cfg.RetainHighMB) << 20,
					Low:  int64(cfg.RetainLowMB) << 20,
				},
			}
			return app.Watch(ctx, ac, wc, app.WithLogger(log.NewZerologAdapterWithLogger(zl)))
		},
	}
	addReplayFlags(cmd.Flags(), cfg)
	cmd.Flags().StringVar(&cfg.WatchDir, "watch-dir", cfg.WatchDir, "directory to watch for capture files")
	cmd.Flags().StringVar(&cfg.OutDir, "out-dir", cfg.OutDir, "directory for latency files and the replay ledger (defaults to watch-dir)")
	cmd.Flags().IntVar(&cfg.RetainHighMB, "retain-high-mb", cfg.RetainHighMB, "trim replayed captures once watch-dir exceeds this many MiB (0: keep all)")
	cmd.Flags().IntVar(&cfg.RetainLowMB, "retain-low-mb", cfg.RetainLowMB, "trim down to this many MiB")
	return cmd
}

func loadTraces(paths []string, cfg *cliconfig.Config) ([]domain.Trace, error) {
	unit, err := cliconfig.ParseTimeUnit(cfg.TimeUnit)
	if err != nil {
		return nil, err
	}
	logger := log.NewZerologAdapterWithLogger(cliconfig.Logger(cfg.LogLevel).Level(zerolog.WarnLevel))
	return app.LoadTraces(paths, unit, cfg.MaxTransactions, logger)
}

func newInspectCmd(cfg *cliconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <capture>...",
		Short: "Print workload statistics for capture files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := loadTraces(args, cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tr := range traces {
				s := trace.Summarize(tr)
				fmt.Fprintf(out, "%s\n", tr.Source)
				fmt.Fprintf(out, "  entries:               %d\n", s.Entries)
				fmt.Fprintf(out, "  statements:            %d (%d reads, %d writes)\n", s.Statements, s.Reads, s.Writes)
				fmt.Fprintf(out, "  transactions:          %d\n", s.Transactions)
				fmt.Fprintf(out, "  mean transaction size: %.2f\n", s.MeanTransactionSize)
				fmt.Fprintf(out, "  mean think time:       %s\n", s.MeanThinkTime)
				fmt.Fprintf(out, "  timing anomalies:      %d\n", s.Anomalies)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.TimeUnit, "time-unit", cfg.TimeUnit, "unit of the capture time field (ns, us, ms, s)")
	cmd.Flags().IntVar(&cfg.MaxTransactions, "max-transactions", cfg.MaxTransactions, "stop loading after this many commits (0: no limit)")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var stat string
	var groups bool
	cmd := &cobra.Command{
		Use:   "compare <baseline> <experimental>",
		Short: "Compare two latency files and print speedups",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := stats.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("baseline: %w", err)
			}
			exp, err := stats.LoadFile(args[1])
			if err != nil {
				return fmt.Errorf("experimental: %w", err)
			}
			r, err := stats.WriteReport(cmd.OutOrStdout(), stat, base, exp)
			if err != nil {
				return err
			}
			if groups {
				return r.WriteGroups(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stat, "stat", "latency", "label of the report rows")
	cmd.Flags().BoolVar(&groups, "groups", true, "print per-group share and speedup to stderr")
	return cmd
}

func newTemplatesCmd(cfg *cliconfig.Config) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "templates <capture>...",
		Short: "Print the SQL template table of capture files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := loadTraces(args, cfg)
			if err != nil {
				return err
			}
			t := category.NewTemplates()
			for _, tr := range traces {
				for _, e := range tr.Entries {
					if e.Kind == domain.KindStatement {
						t.ID(e.Statement)
					}
				}
			}
			if output == "" {
				return t.Dump(cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := t.Dump(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the table here instead of stdout")
	cmd.Flags().StringVar(&cfg.TimeUnit, "time-unit", cfg.TimeUnit, "unit of the capture time field (ns, us, ms, s)")
	return cmd
}
