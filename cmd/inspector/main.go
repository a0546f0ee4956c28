package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bingosuite/inspector/config"
	"github.com/bingosuite/inspector/internal/debugger"
	"github.com/bingosuite/inspector/internal/journal"
	"github.com/bingosuite/inspector/internal/logging"
	"github.com/bingosuite/inspector/internal/ws"
)

const shutdownTimeout = 5 * time.Second

var (
	configPath string
	addr       string
	breakStart bool
	wait       bool
	journalOn  bool
)

var rootCmd = &cobra.Command{
	Use:   "inspector",
	Short: "Inspector - debug Lua scripts from any CDP client",
	Long: `Inspector runs a Lua script and exposes it over the Chrome DevTools
Protocol, so DevTools or any CDP client can set breakpoints, step and
inspect values while it runs.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve <script.lua>",
	Short: "Run a script and wait for debugger connections",
	Args:  cobra.ExactArgs(1),
	RunE:  serve,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yml", "path to the config file")
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	serveCmd.Flags().BoolVar(&breakStart, "break", false, "pause before the first statement once a client attaches")
	serveCmd.Flags().BoolVar(&wait, "wait", false, "hold the script until a client sends Runtime.runIfWaitingForDebugger")
	serveCmd.Flags().BoolVar(&journalOn, "journal", false, "record protocol traffic to the journal database")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = addr
	}
	if flags.Changed("break") {
		cfg.Bridge.BreakOnStart = breakStart
	}
	if flags.Changed("wait") {
		cfg.Bridge.WaitForDebugger = wait
	}
	if flags.Changed("journal") {
		cfg.Journal.Enabled = journalOn
	}
	return cfg, cfg.Validate()
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []ws.Option{ws.WithLogger(log)}
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close journal")
			}
		}()
		opts = append(opts, ws.WithJournal(j))
	}

	script, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid script path: %w", err)
	}
	d := debugger.NewDebugger(cfg, cmd.OutOrStdout(), log)
	server := ws.NewServer(cfg.Server.Addr, &cfg.WebSocket, opts...)
	hub, err := server.AddTarget(filepath.Base(script), "file://"+filepath.ToSlash(script), d.Bridge, cfg.Bridge.BreakOnStart)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	if _, err := d.StartWithDebug(ctx, script); err != nil {
		shutdown(server, d, false)
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Debugger listening on ws://%s/devtools/%s\n", dialHost(cfg.Server.Addr), hub.TargetID())

	select {
	case <-d.EndDebugSession:
	case <-ctx.Done():
		log.Info().Msg("interrupted")
	case err = <-serveErr:
	}
	shutdown(server, d, true)

	if err != nil {
		return err
	}
	if err := d.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// shutdown ends every session first so a paused script can unwind, then
// stops the script and releases the engine.
func shutdown(server *ws.Server, d *debugger.Debugger, started bool) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = server.Shutdown(ctx)
	if started {
		d.StopDebug()
		<-d.EndDebugSession
	}
	d.Close()
}

// dialHost turns a listen address into one a client can dial.
func dialHost(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return listen
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
