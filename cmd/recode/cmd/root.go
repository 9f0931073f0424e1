// Package cmd implements the recode CLI: a resumable, resource-aware batch
// transcoding executor built around internal/scheduler.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/recode/internal/config"
	"github.com/jmylchreest/recode/internal/ingest"
	"github.com/jmylchreest/recode/internal/media"
	"github.com/jmylchreest/recode/internal/mediainfo"
	"github.com/jmylchreest/recode/internal/observability"
	"github.com/jmylchreest/recode/internal/scheduler"
	"github.com/jmylchreest/recode/internal/state"
	"github.com/jmylchreest/recode/internal/taskgraph"
	"github.com/jmylchreest/recode/internal/toolresolver"
	"github.com/jmylchreest/recode/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	flagDest        string
	flagResume      bool
	flagState       string
	flagLog         string
	flagNoStart     bool
	flagDebug       bool
	flagScriptize   bool
	flagInteractive bool
	flagForceType   string
	flagForceParams string
	flagListParams  bool
	flagUpdateDelay time.Duration
)

// rootCmd is recode's single command: no subcommands besides "version",
// matching main.py's flat argparse surface.
var rootCmd = &cobra.Command{
	Use:     "recode [sources...]",
	Short:   "Resumable, resource-aware batch media transcoder",
	Version: version.Short(),
	Long: `recode walks a list of source media files, identifies each one (movie or
series episode), and builds a resumable transcode plan persisted to a state
file. Re-running the same command later resumes unfinished work instead of
starting over.`,
	Args: cobra.ArbitraryArgs,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
	RunE: runRecode,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.recode.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.Flags().StringVar(&flagDest, "dest", "", "destination directory for transcoded output")
	rootCmd.Flags().BoolVar(&flagResume, "resume", false, "resume a previous run instead of requiring fresh sources")
	rootCmd.Flags().StringVar(&flagState, "state", "", "path to the state file (default: <dest>/tasks.state, name set by storage.state_name)")
	rootCmd.Flags().StringVar(&flagLog, "log", "", "base path for per-task ffmpeg output logs")
	rootCmd.Flags().BoolVar(&flagNoStart, "nostart", false, "ingest sources into the state file but don't run the executor")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "shorthand for --log-level debug")
	rootCmd.Flags().BoolVar(&flagScriptize, "scriptize", false, "emit shell commands instead of running tasks")
	rootCmd.Flags().BoolVarP(&flagInteractive, "interactive", "i", false, "prompt for which audio tracks to keep")
	rootCmd.Flags().StringVar(&flagForceType, "force-type", "", "override type inference (movie, hqmovie, lqmovie, ytlike, series)")
	rootCmd.Flags().StringVar(&flagForceParams, "force-params", "", "comma-separated key=value overrides, e.g. name=Some Title")
	rootCmd.Flags().BoolVar(&flagListParams, "list-params", false, "list the recognized --force-params keys and exit")
	rootCmd.Flags().DurationVar(&flagUpdateDelay, "update-delay", 0, "how often the executor polls for incrementally-ingested batches (default from config)")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/recode")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".recode")
	}

	viper.SetEnvPrefix("RECODE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the slog default logger based on configuration.
// This runs in PersistentPreRunE, before config.Load reads the "logging.*"
// keys config.SetDefaults registers, so it builds a LoggingConfig directly
// from the "log.*" keys bound to the --log-level/--log-format flags.
func initLogging() error {
	level := strings.ToLower(viper.GetString("log.level"))
	if flagDebug {
		level = "debug"
	}

	cfg := config.LoggingConfig{
		Level:  level,
		Format: strings.ToLower(viper.GetString("log.format")),
	}

	observability.SetDefault(observability.NewLoggerWithWriter(cfg, os.Stderr))
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}

var forceParamKeys = map[string]bool{"name": true}

func runRecode(_ *cobra.Command, args []string) error {
	if flagListParams {
		for key := range forceParamKeys {
			fmt.Println(key)
		}
		return nil
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	dest := flagDest
	if dest == "" {
		dest = cfg.Storage.DefaultDest
	}
	if dest == "" {
		return fmt.Errorf("recode: --dest is required")
	}

	statePath := flagState
	if statePath == "" {
		statePath = dest + "/" + cfg.Storage.StateName
	}

	if len(args) == 0 && !flagResume {
		return fmt.Errorf("recode: no source files given (pass --resume to continue a prior run with no new sources)")
	}

	resolver := toolresolver.New()
	if cfg.FFmpeg.FFmpegPath != "" {
		resolver.WithPath(toolresolver.FFmpeg, cfg.FFmpeg.FFmpegPath)
	}
	if cfg.FFmpeg.FFmpegNormalizePath != "" {
		resolver.WithPath(toolresolver.FFmpegNormalize, cfg.FFmpeg.FFmpegNormalizePath)
	}
	if cfg.FFmpeg.MkvmergePath != "" {
		resolver.WithPath(toolresolver.Mkvmerge, cfg.FFmpeg.MkvmergePath)
	}
	if cfg.FFmpeg.MkvextractPath != "" {
		resolver.WithPath(toolresolver.Mkvextract, cfg.FFmpeg.MkvextractPath)
	}

	mkvmergePath, err := resolver.Resolve(toolresolver.Mkvmerge)
	if err != nil {
		return err
	}
	prober := mediainfo.NewProber(mkvmergePath)

	forceType, err := parseForceType(flagForceType)
	if err != nil {
		return err
	}
	forceName, err := parseForceName(flagForceParams)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := observability.WithRunID(slog.Default(), runID)
	observability.SetDefault(logger)

	st := state.New(statePath)

	if len(args) > 0 {
		opts := ingest.Options{
			Dest:        dest,
			StdoutBase:  flagLog,
			TmpDir:      os.TempDir(),
			Interactive: flagInteractive,
			ForceType:   forceType,
			ForceName:   forceName,
			Resolver:    resolver,
			Prober:      prober,
		}

		ctx := context.Background()
		for _, src := range args {
			batch, err := ingest.BuildBatch(ctx, src, opts)
			if err != nil {
				return err
			}
			if err := ingest.AppendBatches(st, []taskgraph.Batch{batch}); err != nil {
				return err
			}
			slog.Info("ingested source", "path", src)
		}
	}

	if flagNoStart {
		return nil
	}

	exec, err := scheduler.New(st,
		scheduler.WithLogger(logger),
		scheduler.WithScriptize(flagScriptize),
		scheduler.WithUpdateDelay(resolveUpdateDelay(cfg)),
		scheduler.WithResolver(resolver),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return exec.Execute(ctx)
}

func resolveUpdateDelay(cfg *config.Config) time.Duration {
	if flagUpdateDelay > 0 {
		return flagUpdateDelay
	}
	return cfg.Scheduler.UpdateDelay
}

func parseForceType(s string) (media.Kind, error) {
	switch s {
	case "":
		return "", nil
	case "movie":
		return media.KindMovie, nil
	case "hqmovie":
		return media.KindHQMovie, nil
	case "lqmovie":
		return media.KindLQMovie, nil
	case "ytlike":
		return media.KindYTLike, nil
	case "series":
		return media.KindSeries, nil
	default:
		return "", fmt.Errorf("recode: unknown --force-type %q", s)
	}
}

func parseForceName(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	for _, kv := range strings.Split(s, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("recode: --force-params entry %q is not key=value", kv)
		}
		key, val := strings.TrimSpace(parts[0]), parts[1]
		if !forceParamKeys[key] {
			return "", fmt.Errorf("recode: unknown --force-params key %q", key)
		}
		if key == "name" {
			return val, nil
		}
	}
	return "", nil
}
