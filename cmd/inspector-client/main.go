package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/bingosuite/inspector/config"
	"github.com/bingosuite/inspector/internal/ws"
	"github.com/bingosuite/inspector/pkg/client"
)

var (
	configPath string
	targetID   string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "inspector-client [host:port]",
	Short: "Inspector client - interactive debugger for inspector targets",
	Long: `Inspector client attaches to a target served by "inspector serve" and
drives it from a prompt: breakpoints, stepping, backtraces and evaluation.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yml", "config file to read the default address from")
	rootCmd.Flags().StringVar(&targetID, "target", "", "target id; defaults to the first free target")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for a target")
}

func defaultAddr() string {
	cfg, err := config.Load(configPath)
	if err != nil || cfg.Server.Addr == "" {
		return "127.0.0.1:9229"
	}
	if strings.HasPrefix(cfg.Server.Addr, ":") {
		return "127.0.0.1" + cfg.Server.Addr
	}
	return cfg.Server.Addr
}

// waitForTarget polls the target list until a target is free to attach.
func waitForTarget(ctx context.Context, addr string) (ws.Target, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for inspector target on " + addr + "..."
	s.Writer = os.Stderr
	s.Start()
	defer s.Stop()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		targets, err := client.Targets(ctx, addr)
		if err == nil {
			for _, t := range targets {
				if t.WebSocketDebuggerURL != "" && (targetID == "" || t.ID == targetID) {
					return t, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return ws.Target{}, fmt.Errorf("no target found: %w", err)
			}
			return ws.Target{}, fmt.Errorf("no free target found: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func run(cmd *cobra.Command, args []string) error {
	addr := defaultAddr()
	if len(args) == 1 {
		addr = args[0]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	target, err := waitForTarget(ctx, addr)
	cancel()
	if err != nil {
		return err
	}

	c, err := client.Dial(cmd.Context(), target.WebSocketDebuggerURL)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Attached to %s (%s)\n", target.Title, target.URL)

	r := newREPL(c, cmd.OutOrStdout())
	go r.watch()
	if err := c.Enable(cmd.Context()); err != nil {
		return err
	}
	return r.loop(cmd.Context())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
