package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/config"
	"github.com/lakshaymaurya-felt/clearfile/internal/logging"
	"github.com/lakshaymaurya-felt/clearfile/internal/metrics"
	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

var (
	// Global flags
	cfgFile     string
	debug       bool
	logLevel    string
	logFile     string
	metricsFile string
	noProgress  bool

	// Version info populated from main
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"

	// Set up once per invocation by PersistentPreRunE.
	v          = viper.New()
	cfg        *config.Config
	logger     = zap.NewNop()
	runMetrics = metrics.New()
	runStart   time.Time
)

// skipSetupAnnotation marks commands that run without configuration.
const skipSetupAnnotation = "clearfile/skip-setup"

// SetVersionInfo sets build-time version information.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "cf",
	Short: "Find, back up and remove rubbish files",
	Long: `ClearFile - find, back up and remove rubbish files.

Scans volumes for temporary, backup and log files that are old or tiny,
archives them into a timestamped zip under the backup directory, and only
then deletes them. Any backup can be restored later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.TitleStyle().Render("ClearFile")+" - find, back up and remove rubbish files")
		fmt.Fprintln(out, "Run 'cf --help' for available commands.")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Version %s (%s) built %s\n", appVersion, appCommit, appDate)
		return nil
	},
}

// Execute runs the root command with a context cancelled on interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	finish()
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default is ./config.yaml or ~/.clearfile/config.yaml)")
	pf.BoolVar(&debug, "debug", false, "Show detailed operation logs")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFile, "log-file", "", "Also write JSON logs to this file, rotated")
	pf.StringVar(&metricsFile, "metrics-file", "", "Write run metrics to this node-exporter textfile")
	pf.BoolVar(&noProgress, "no-progress", false, "Print plain per-file lines instead of the live progress view")

	bindFlags()

	// Register all subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(volumesCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(versionCmd)
}

// bindFlags lets the persistent flags override their config keys.
func bindFlags() {
	pf := rootCmd.PersistentFlags()
	_ = v.BindPFlag("log.file", pf.Lookup("log-file"))
	_ = v.BindPFlag("metrics_file", pf.Lookup("metrics-file"))
}

// setup loads configuration and builds the logger for cmd.
func setup(cmd *cobra.Command) error {
	if cmd.Annotations[skipSetupAnnotation] != "" ||
		cmd.Name() == cobra.ShellCompRequestCmd || cmd.Name() == cobra.ShellCompNoDescRequestCmd {
		return nil
	}

	if err := initConfig(cfgFile); err != nil {
		return err
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = c

	override := ""
	if cmd.Flags().Changed("log-level") {
		override = logLevel
	}
	l, err := logging.New(debug, override, cfg.Log)
	if err != nil {
		return err
	}
	logger = l
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, logger))
	runStart = time.Now()

	logger.Debug("configuration loaded",
		zap.String("command", cmd.CommandPath()),
		zap.String("config_file", v.ConfigFileUsed()),
		zap.String("backup_dir", cfg.BackupDir),
		zap.Strings("protected_paths", cfg.ProtectedPaths),
		zap.Strings("rubbish_extensions", cfg.RubbishExtensions))
	return nil
}

// finish flushes logs and writes the metrics textfile if one is configured.
func finish() {
	if cfg != nil && cfg.MetricsFile != "" {
		runMetrics.ObserveRun(runStart)
		if err := runMetrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("failed to write metrics", zap.Error(err))
		}
	}
	_ = logger.Sync()
}
