package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linux-shaderpaper/internal/config"
	"linux-shaderpaper/internal/daemon"
	"linux-shaderpaper/internal/render/rlbackend"
	"linux-shaderpaper/internal/utils"
)

func init() {
	// GL calls must come from the thread that created the context.
	runtime.LockOSThread()
}

var (
	// Global flags
	configPath   string
	logLevel     string
	debugOverlay bool
	development  bool
)

var rootCmd = &cobra.Command{
	Use:   utils.AppName,
	Short: "Animated shader wallpapers for Linux desktops",
	Long: `linux-shaderpaper draws GLSL fragment shaders as the desktop wallpaper,
one per display, and pauses or throttles them on battery, with the lid
closed or under fullscreen windows.

Run without a subcommand to start the wallpaper daemon.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		lvl := logLevel
		if lvl == "" {
			lvl = os.Getenv(config.EnvLogLevel)
		}
		level, err := utils.ParseLevel(lvl)
		if err != nil {
			return err
		}
		return utils.InitLogger(level, development)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		utils.Sync()
	},
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default $XDG_CONFIG_HOME/linux-shaderpaper/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&development, "dev", false, "human readable colored logs")
	rootCmd.Flags().BoolVar(&debugOverlay, "debug-overlay", false, "outline displays and show their schedule state")

	rootCmd.AddCommand(listCmd, inspectCmd, validateCmd, statusCmd, setCmd, convertCmd, unpackCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	if logLevel == "" {
		if level, err := utils.ParseLevel(cfg.LogLevel); err == nil {
			utils.SetLevel(level)
		}
	}
	registry := config.NewRegistry(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if w, err := config.WatchConfig(ctx, registry, configPath); err != nil {
		utils.L().Warn("config file is not watched", zap.String("path", configPath), zap.Error(err))
	} else {
		defer w.Stop()
	}

	screens, err := openDisplays(ctx)
	if err != nil {
		return err
	}
	defer screens.source.Close()

	pw := openPower()
	defer pw.Close()

	backend, err := rlbackend.New(rlbackend.Options{
		Title:        utils.AppName,
		Bounds:       screens.bounds,
		Desktop:      screens.markDesktop,
		DebugOverlay: debugOverlay || cfg.DebugOverlay,
	})
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	defer backend.Close()

	engine, err := daemon.New(daemon.Options{
		Backend:  backend,
		Displays: screens.source,
		Power:    pw,
		Registry: registry,
		Status:   config.NewStatusFile(config.DefaultStatusPath()),
	})
	if err != nil {
		return err
	}
	utils.L().Info("daemon starting", zap.String("config", configPath))
	return engine.Run(ctx)
}
