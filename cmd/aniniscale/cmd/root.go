package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ivlev/aniniscale/internal/config"
	"github.com/ivlev/aniniscale/internal/engine"
	"github.com/ivlev/aniniscale/internal/logging"
	"github.com/ivlev/aniniscale/internal/source"
	"github.com/ivlev/aniniscale/internal/system"
)

// Directories searched and filled when --input or --output is omitted.
const (
	InputDir  = "input"
	OutputDir = "output"
)

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:   "aniniscale",
		Short: "downscale an image to the dominant color of each block",
		Long: "aniniscale shrinks an image by an integer factor on each axis. Every " +
			"x-block by y-block group of source pixels becomes one output pixel " +
			"holding the color that occurs most often in the group.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveConfig(cmd.Flags(), gitsha)
			if err != nil {
				return err
			}
			cfg = c

			level, ok := logging.ParseLevel(cfg.LogLevel)
			var w io.Writer = os.Stdout
			if cfg.LogFile != "" {
				w = io.MultiWriter(os.Stdout, logging.RotatingFile(cfg.LogFile))
			}
			slog.SetDefault(logging.Logger(w, cfg.JSONLogs, level))
			if !ok {
				slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", cfg.LogLevel)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolvePaths(ctx, cfg, time.Now()); err != nil {
				return err
			}
			return engine.NewProject(cfg, slog.Default()).Run(ctx)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewConfigCmd(ctx, func() *config.Config { return cfg }),
	)

	def := config.Default()
	pf := cmd.PersistentFlags()
	pf.StringP("input", "i", "", "path to input image (default: newest image in "+InputDir+"/)")
	pf.StringP("output", "o", "", "path to output image (default: "+OutputDir+"/<name>_<timestamp>.png)")
	pf.IntP("x-block", "x", def.BlockX, "block size on X axis")
	pf.IntP("y-block", "y", def.BlockY, "block size on Y axis")
	pf.IntP("task-block-side", "t", def.TaskBlockSide, "maximum number of blocks in any processing task")
	pf.IntP("reporting-timeout", "r", int(def.ReportInterval/time.Second), "minimum timeout between log reports in seconds")
	pf.Int("workers", 0, "worker count hint (default: number of CPUs)")
	pf.Int("page", 0, "page of a multi-page input, zero based")
	pf.Int("dpi", def.DPI, "render resolution for PDF input")
	pf.String("config", "", "YAML file with default settings")
	pf.String("log-level", def.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.String("log-file", "", "also write logs to this rotating file")
	pf.Bool("json", false, "log as JSON")
	pf.Bool("stats", false, "print a performance report and append it to the stats log")
	pf.String("stats-log", def.StatsLog, "file the performance report is appended to")
	return cmd
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gitsha)
		},
	}
	return cmd
}

// NewConfigCmd writes the settings resolved from defaults, --config and
// flags to a YAML file that can be passed back with --config.
func NewConfigCmd(ctx context.Context, resolved func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config PATH",
		Short: "save the effective settings as YAML",
		Long:  "save the effective settings as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolved().WriteFile(args[0]); err != nil {
				return err
			}
			slog.InfoContext(ctx, "[*] settings saved", "path", args[0])
			return nil
		},
	}
	return cmd
}

// resolveConfig layers defaults, the optional YAML file and the flags the
// user actually set, in that order.
func resolveConfig(fl *pflag.FlagSet, gitsha string) (*config.Config, error) {
	cfg := config.Default()
	cfg.BuildVersion = gitsha

	if path, _ := fl.GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	strs := map[string]*string{
		"input":     &cfg.InputPath,
		"output":    &cfg.OutputPath,
		"log-level": &cfg.LogLevel,
		"log-file":  &cfg.LogFile,
		"stats-log": &cfg.StatsLog,
	}
	for name, dst := range strs {
		if fl.Changed(name) {
			*dst, _ = fl.GetString(name)
		}
	}
	ints := map[string]*int{
		"x-block":         &cfg.BlockX,
		"y-block":         &cfg.BlockY,
		"task-block-side": &cfg.TaskBlockSide,
		"workers":         &cfg.Workers,
		"page":            &cfg.Page,
		"dpi":             &cfg.DPI,
	}
	for name, dst := range ints {
		if fl.Changed(name) {
			*dst, _ = fl.GetInt(name)
		}
	}
	bools := map[string]*bool{
		"json":  &cfg.JSONLogs,
		"stats": &cfg.ShowStats,
	}
	for name, dst := range bools {
		if fl.Changed(name) {
			*dst, _ = fl.GetBool(name)
		}
	}
	if fl.Changed("reporting-timeout") {
		secs, _ := fl.GetInt("reporting-timeout")
		cfg.ReportInterval = time.Duration(secs) * time.Second
	}
	return &cfg, nil
}

// resolvePaths fills in a missing input with the newest image in InputDir
// and a missing output with a timestamped PNG in OutputDir.
func resolvePaths(ctx context.Context, cfg *config.Config, now time.Time) error {
	if cfg.InputPath == "" {
		latest, err := system.FindLatest(InputDir, source.InputExtensions...)
		if err != nil {
			return fmt.Errorf("%w. Put an image in %s/ or pass --input", err, InputDir)
		}
		cfg.InputPath = latest
		slog.InfoContext(ctx, "[*] Selected file", "input", latest)
	}

	if cfg.OutputPath == "" {
		if err := os.MkdirAll(OutputDir, 0755); err != nil {
			return err
		}
		cfg.OutputPath = DefaultOutputPath(cfg.InputPath, now)
	}
	return nil
}

// DefaultOutputPath names the output after the input file and the time.
func DefaultOutputPath(input string, now time.Time) string {
	baseName := filepath.Base(input)
	nameOnly := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	cleanName := strings.ReplaceAll(nameOnly, " ", "_")
	timestamp := now.Format("2006-01-02_15-04-05")
	return filepath.Join(OutputDir, fmt.Sprintf("%s_%s.png", cleanName, timestamp))
}
