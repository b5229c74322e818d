package main

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-hive/internal/search"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var searchGoal string

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Select capabilities for a goal and print the plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(searchGoal) == "" {
			return fmt.Errorf("--goal is required")
		}
		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		s := search.FromHive(rt.hive)
		res := s.Search(cmd.Context(), searchGoal, rt.tree)
		plan := s.Plan(cmd.Context(), searchGoal, res.Selected)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Selected %d capabilities (%d reasoner calls, %d fallbacks)\n",
			len(res.Selected), res.ReasonerCalls, res.Fallbacks)
		for _, c := range res.Selected {
			line := "  " + c.ID
			if reason := res.Reasons[c.ID]; reason != "" {
				line += " " + dimColor.Sprint(reason)
			}
			fmt.Fprintln(out, line)
		}
		if plan.Fallback {
			fmt.Fprintln(out, warnColor.Sprint("\nPlan (fallback)"))
		} else {
			fmt.Fprintln(out, "\nPlan")
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(plan)
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchGoal, "goal", "g", "", "goal to search for")
}
