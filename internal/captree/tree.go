// Package captree groups the capability catalog into a fixed
// Domain → Function → Capability taxonomy that bounds search breadth.
package captree

import (
	"sort"
	"strings"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
)

const (
	RootID    = "root"
	GeneralID = "general"
)

// Node is one node of the capability tree. A node is a leaf iff it has no
// children; only leaves hold capabilities.
type Node struct {
	ID           string
	Name         string
	Description  string
	Children     []*Node
	Capabilities []hive.Capability
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// CapabilityCount returns the number of capabilities under n.
func (n *Node) CapabilityCount() int {
	count := len(n.Capabilities)
	for _, c := range n.Children {
		count += c.CapabilityCount()
	}
	return count
}

// All returns every capability under n in depth-first order.
func (n *Node) All() []hive.Capability {
	out := make([]hive.Capability, 0, n.CapabilityCount())
	n.Walk(func(node *Node, _ int) {
		out = append(out, node.Capabilities...)
	})
	return out
}

// Walk visits n and its descendants depth-first, pre-order.
func (n *Node) Walk(fn func(node *Node, depth int)) {
	var walk func(*Node, int)
	walk = func(node *Node, depth int) {
		fn(node, depth)
		for _, c := range node.Children {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
}

// Find returns the descendant (or n itself) with the given id.
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(node *Node, _ int) {
		if found == nil && node.ID == id {
			found = node
		}
	})
	return found
}

// LeafOf returns the leaf holding the capability id.
func (n *Node) LeafOf(capabilityID string) *Node {
	var leaf *Node
	n.Walk(func(node *Node, _ int) {
		if leaf != nil {
			return
		}
		for _, c := range node.Capabilities {
			if c.ID == capabilityID {
				leaf = node
				return
			}
		}
	})
	return leaf
}

// BuildReport summarises a tree build.
type BuildReport struct {
	Assigned   int
	Unassigned int // bucketed into the general leaf
	Skipped    int // malformed or duplicate entries
}

// Build groups the catalog into the taxonomy. It is a pure function of its
// inputs: capabilities inside a leaf are sorted by id, domains and functions
// keep taxonomy order, and empty branches are pruned. Capabilities matching
// no function land in a synthetic "general" leaf, so every capability is
// reachable from exactly one leaf.
func Build(capabilities []hive.Capability, taxonomy *Taxonomy) (*Node, BuildReport) {
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}

	var report BuildReport
	buckets := make(map[string][]hive.Capability)
	var general []hive.Capability
	seen := make(map[string]struct{}, len(capabilities))

	explicit, byCategory := taxonomy.index()

	for _, c := range capabilities {
		if c.ID == "" {
			report.Skipped++
			continue
		}
		if _, dup := seen[c.ID]; dup {
			report.Skipped++
			continue
		}
		seen[c.ID] = struct{}{}

		if fnID, ok := explicit[c.ID]; ok {
			buckets[fnID] = append(buckets[fnID], c)
			report.Assigned++
			continue
		}
		if fnID, ok := byCategory[strings.ToLower(c.Category)]; ok {
			buckets[fnID] = append(buckets[fnID], c)
			report.Assigned++
			continue
		}
		general = append(general, c)
		report.Unassigned++
	}

	root := &Node{ID: RootID, Name: "All capabilities"}
	for _, d := range taxonomy.Domains {
		domain := &Node{ID: d.ID, Name: d.Name, Description: d.Description}
		for _, f := range d.Functions {
			caps := buckets[f.ID]
			if len(caps) == 0 {
				continue
			}
			sortByID(caps)
			domain.Children = append(domain.Children, &Node{
				ID:           f.ID,
				Name:         f.Name,
				Description:  f.Description,
				Capabilities: caps,
			})
		}
		if len(domain.Children) > 0 {
			root.Children = append(root.Children, domain)
		}
	}

	if len(general) > 0 {
		sortByID(general)
		root.Children = append(root.Children, &Node{
			ID:          GeneralID,
			Name:        "General",
			Description: "Capabilities outside the taxonomy",
			Children: []*Node{{
				ID:           GeneralID + ".misc",
				Name:         "Miscellaneous",
				Description:  "Uncategorised capabilities",
				Capabilities: general,
			}},
		})
	}

	return root, report
}

func sortByID(caps []hive.Capability) {
	sort.SliceStable(caps, func(i, j int) bool { return caps[i].ID < caps[j].ID })
}
