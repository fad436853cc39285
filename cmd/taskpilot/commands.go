package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/rahul/taskpilot/internal/agent"
	"github.com/rahul/taskpilot/internal/gateway"
	"github.com/rahul/taskpilot/internal/observability"
	"github.com/rahul/taskpilot/internal/plan"
)

var (
	runText    bool
	showEvents bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateways and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Plan, execute and verify one task and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd.Context(), strings.Join(args, " "), cmd.OutOrStdout())
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <plan.json>",
	Short: "Execute a plan file without the planner and print the aggregated result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return execPlan(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools and their actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTools(cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runText, "text", false, "Print the chat reply instead of JSON")
	for _, c := range []*cobra.Command{runCmd, execCmd} {
		c.Flags().BoolVar(&showEvents, "events", false, "Write the structured event log to stderr")
	}
}

func eventWriter() io.Writer {
	if showEvents {
		return os.Stderr
	}
	return io.Discard
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTask(ctx context.Context, task string, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	a, err := buildApp(cfg, logger, eventWriter(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.assistant.Run(ctx, "cli", task)
	if err != nil {
		return err
	}
	if runText {
		_, err = fmt.Fprintln(out, agent.FormatReply(res))
		return err
	}
	return printJSON(out, res)
}

func execPlan(ctx context.Context, path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p, err := plan.Parse(data)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	a, err := buildApp(cfg, logger, eventWriter(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg, err := a.scheduler.Execute(ctx, p)
	if err != nil {
		return err
	}
	if err := printJSON(out, agg); err != nil {
		return err
	}
	if !agg.OverallSuccess {
		return errors.New("no step succeeded")
	}
	return nil
}

func listTools(out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, newLogger(cfg.Log, os.Stderr), io.Discard, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, t := range a.registry.List() {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name(), t.Description())
		for _, act := range t.Actions() {
			name := act.Name
			if len(act.Aliases) > 0 {
				name += " (" + strings.Join(act.Aliases, ", ") + ")"
			}
			fmt.Fprintf(tw, "  %s\t%s\n", name, act.Description)
		}
	}
	return tw.Flush()
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dashboard := term.IsTerminal(int(os.Stdout.Fd()))
	var logOut io.Writer = os.Stderr
	if dashboard {
		observability.PrintBanner()
		observability.InitializeTerminal()
		// Route all log output through the terminal mutex so it never
		// interrupts the dashboard's cursor save/restore sequence.
		logOut = observability.NewTermWriter()
	}
	logger := newLogger(cfg.Log, logOut)
	slog.SetDefault(logger)

	a, err := buildApp(cfg, logger, logOut, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var messengers []gateway.Messenger
	if tg, ok := cfg.GetTelegramConfig(); ok {
		g, err := gateway.NewTelegramGateway(tg.Token, a.assistant, logger)
		if err != nil {
			return err
		}
		messengers = append(messengers, g)
	}
	if dc, ok := cfg.GetDiscordConfig(); ok {
		g, err := gateway.NewDiscordGateway(dc.Token, dc.GuildID, dc.Prefix, a.assistant, logger)
		if err != nil {
			return err
		}
		messengers = append(messengers, g)
	}
	if len(messengers) == 0 && !cfg.HTTP.Enabled {
		return errors.New("no gateway is enabled: configure telegram, discord or http")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	for _, m := range messengers {
		g.Go(func() error { return m.Start(ctx) })
	}
	if cfg.HTTP.Enabled {
		srv := gateway.NewHTTPServer(a.assistant, a.registry, a.metrics.Handler(), logger)
		g.Go(func() error { return srv.ListenAndServe(ctx, cfg.HTTP.Addr) })
	}

	g.Go(func() error {
		status := time.NewTicker(time.Second)
		heartbeat := time.NewTicker(30 * time.Second)
		defer status.Stop()
		defer heartbeat.Stop()
		observability.Heartbeat()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-status.C:
				if dashboard {
					observability.PrintLiveStatus()
				}
			case <-heartbeat.C:
				observability.Heartbeat()
				a.events.LogHeartbeat()
			}
		}
	})

	err = g.Wait()
	if dashboard {
		observability.CleanupTerminal()
	}
	if err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}
