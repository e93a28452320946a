package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/danmuck/toolbox/internal/admin"
	"github.com/danmuck/toolbox/internal/certs"
	"github.com/danmuck/toolbox/internal/config"
	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/observability"
	"github.com/danmuck/toolbox/internal/settings"
	"github.com/danmuck/toolbox/internal/toolbox"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errDaemonOnly = errors.New("operation needs the running daemon; use the admin api")

type app struct {
	root       *cobra.Command
	out        io.Writer
	configPath string
}

func newApp(out io.Writer) *app {
	a := &app{out: out}
	a.root = &cobra.Command{
		Use:           "toolboxd",
		Short:         "Install, run and tear down the managed agent tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	a.root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "cmd/toolboxd/config.toml", "toolboxd config path")
	a.root.SetOut(out)
	a.root.AddCommand(a.newStatusCmd(), a.newOperationsCmd(), a.newToolCmd())
	return a
}

func (a *app) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return a.root.ExecuteContext(ctx)
}

func (a *app) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.root.ExecuteContext(ctx)
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print installed and running state of every tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, ctl, err := a.controller()
			if err != nil {
				return err
			}
			return a.printJSON(ctl.StatusAll())
		},
	}
}

func (a *app) newOperationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List lifecycle operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.printJSON(toolbox.Operations())
		},
	}
}

// newToolCmd runs one offline operation. Processes spawned here would die
// with the command, so running-state operations are left to the daemon.
// Deferred file removal is flushed before the command returns.
func (a *app) newToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tool <id> <install|uninstall|delete|status>",
		Short: "Run one offline lifecycle operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := settings.ParseToolID(args[0])
			if err != nil {
				return err
			}
			switch args[1] {
			case toolbox.OpInstall, toolbox.OpUninstall, toolbox.OpDelete, toolbox.OpStatus:
			case toolbox.OpStart, toolbox.OpStop, toolbox.OpRestart:
				return fmt.Errorf("%s: %w", args[1], errDaemonOnly)
			default:
				return fmt.Errorf("%w: %q", toolbox.ErrUnknownOperation, args[1])
			}
			_, ctl, err := a.controller()
			if err != nil {
				return err
			}
			defer ctl.Shutdown()
			status, err := ctl.Do(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			if status != nil {
				return a.printJSON(status)
			}
			fmt.Fprintf(a.out, "%s %s: ok\n", id, args[1])
			return nil
		},
	}
}

func (a *app) controller() (config.Daemon, *toolbox.Controller, error) {
	cfg, err := loadDaemonConfig(a.configPath)
	if err != nil {
		return config.Daemon{}, nil, err
	}
	logging.ConfigureWithLevel(logging.ProfileRuntime, cfg.LogLevel)
	ctl, err := toolbox.New(toolbox.Options{
		DataDir: cfg.DataDir,
		Timing: toolbox.Timing{
			CleanupGrace: cfg.CleanupGrace,
			PlaintextTTL: cfg.PlaintextTTL,
			RestartDelay: cfg.RestartDelay,
		},
	})
	if err != nil {
		return config.Daemon{}, nil, err
	}
	return cfg, ctl, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) serve(ctx context.Context) error {
	cfg, ctl, err := a.controller()
	if err != nil {
		return err
	}
	defer ctl.Shutdown()
	observability.RegisterMetrics()
	log.Info().Str("path", a.configPath).Str("data_dir", cfg.DataDir).Msg("loaded toolboxd config")

	if cfg.WatchConfig {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return err
		}
		go func() {
			err := ctl.Store().Watch(ctx, func(settings.Document) {
				log.Info().Msg("tool settings reloaded")
			})
			if err != nil {
				log.Error().Err(err).Msg("settings watcher stopped")
			}
		}()
	}

	if cfg.AutoStart {
		ctl.AutoStart(ctx)
	}

	if cfg.AdminAddr == "" {
		log.Info().Msg("admin api disabled")
		<-ctx.Done()
		log.Info().Msg("shutting down")
		return nil
	}

	opts := admin.Options{
		Addr:        cfg.AdminAddr,
		Token:       cfg.AdminToken,
		CorsOrigins: cfg.CorsOrigins,
	}
	if cfg.AdminToken == "" {
		log.Warn().Msg("admin_token is empty, tool actions will be refused")
	}
	if cfg.AdminTLS {
		opts.CertFile = filepath.Join(cfg.DataDir, "tls", "admin.crt")
		opts.KeyFile = filepath.Join(cfg.DataDir, "tls", "admin.key")
		if err := certs.Ensure(ctx, opts.CertFile, opts.KeyFile); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	if err := admin.New(ctl, opts).Serve(ctx); err != nil {
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}

func logUnknownKeys(path string, keys []string) {
	log.Warn().Str("path", path).Strs("keys", keys).Msg("unknown config keys ignored")
}
