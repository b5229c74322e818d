package main

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-hive/internal/agent"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/dag"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/executor"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work with plan files",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a YAML or JSON plan and print its phases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, g, err := dag.LoadAndValidate(args[0])
		if err != nil {
			return err
		}
		phases, err := g.ExecutionPhases()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d steps in %d phases\n", okColor.Sprint("valid:"), g.Len(), len(phases))
		critical := g.CriticalPaths()
		for _, p := range phases {
			ids := make([]string, len(p.NodeIDs))
			for i, id := range p.NodeIDs {
				ids[i] = fmt.Sprintf("%s(%d)", id, critical[id])
			}
			fmt.Fprintf(out, "  phase %d: %s\n", p.Number, strings.Join(ids, " "))
		}
		return nil
	},
}

var planRunCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Execute a plan file against the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, g, err := dag.LoadAndValidate(args[0])
		if err != nil {
			return err
		}
		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		out := cmd.OutOrStdout()
		bus := eventbus.New()
		sub := bus.Subscribe()
		done := make(chan struct{})
		go func() {
			for m := range sub.C {
				fmt.Fprintln(out, formatEvent(m))
			}
			close(done)
		}()

		const who = "plan"
		hooks := executor.Hooks{
			OnPhase: func(p dag.Phase, mode string) { _ = bus.DAGPhase(who, p.Number, p.NodeIDs, mode) },
			OnStart: func(n dag.Node, params map[string]any) { _ = bus.ToolStarted(who, n.CapabilityID, params) },
			OnResult: func(n dag.Node, result any, err error) {
				d := agent.DigestOf(result)
				_ = bus.ToolResult(who, n.CapabilityID, d.Summary, d.Count, d.Items, err)
			},
		}
		outcome, err := executor.FromHive(rt.hive, executor.WithHooks(hooks), executor.WithLogger(rt.logger)).Run(cmd.Context(), g)
		_ = bus.Close()
		<-done
		if err != nil {
			return err
		}

		m := outcome.Metrics
		fmt.Fprintf(out, "\n%d succeeded, %d failed, %d skipped in %s\n",
			m.NodesSucceeded, m.NodesFailed, m.NodesSkipped, m.TotalDuration.Round(1e6))
		if len(outcome.Errors) > 0 {
			return fmt.Errorf("%d steps failed", len(outcome.Errors))
		}
		return nil
	},
}

func init() {
	planCmd.AddCommand(planValidateCmd)
	planCmd.AddCommand(planRunCmd)
}
