package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZanzyTHEbar/dragonscale-hive/internal/session"
	"github.com/spf13/cobra"
)

var (
	runTopic  string
	runAgents string
	runJSON   bool
	runQuiet  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a research session on a topic",
	Long: `Run starts every configured agent (or the ones named with --agents) on the
topic, streams their events and prints the session summary. Interrupting the
command cancels the session; a summary is still printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(runTopic) == "" {
			return fmt.Errorf("--topic is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := loadRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		var names []string
		if runAgents != "" {
			names = strings.Split(runAgents, ",")
		}
		profiles, err := rt.cfg.SelectAgents(names)
		if err != nil {
			return err
		}
		coordinator, err := session.New(rt.hive, rt.tree, profiles,
			session.WithGrace(rt.cfg.Session.Grace),
			session.WithLogger(rt.logger))
		if err != nil {
			return err
		}

		manager := session.NewManager(coordinator)
		id := manager.Start(ctx, runTopic)
		bus, err := manager.Bus(id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		sub := bus.Subscribe()
		for m := range sub.C {
			if !runQuiet && !runJSON {
				fmt.Fprintln(out, formatEvent(m))
			}
		}

		summary, err := manager.Wait(cmd.Context(), id)
		if err != nil {
			return err
		}
		if runJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		printSummary(out, summary)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTopic, "topic", "t", "", "topic to investigate")
	runCmd.Flags().StringVarP(&runAgents, "agents", "a", "", "comma-separated agent names (default: all)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the summary as JSON")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not stream events")
}
