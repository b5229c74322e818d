package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-hive/internal/captree"
	"github.com/spf13/cobra"
)

var treeCapabilities bool

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the capability taxonomy",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()
		printTree(cmd.OutOrStdout(), rt.tree, treeCapabilities)
		return nil
	},
}

func printTree(w io.Writer, root *captree.Node, withCapabilities bool) {
	root.Walk(func(n *captree.Node, depth int) {
		indent := strings.Repeat("  ", depth)
		fmt.Fprintf(w, "%s%s (%d)\n", indent, agentColor.Sprint(n.Name), n.CapabilityCount())
		if !withCapabilities {
			return
		}
		for _, c := range n.Capabilities {
			fmt.Fprintf(w, "%s  - %s %s\n", indent, c.ID, dimColor.Sprint(c.Description))
		}
	})
}

func init() {
	treeCmd.Flags().BoolVar(&treeCapabilities, "capabilities", false, "list capabilities under each leaf")
}
