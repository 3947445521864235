package cfg

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// Tree renders the graph as an indented tree rooted at the entry block,
// following forward edges only; back edges are shown as leaf annotations so
// the rendering stays finite.
func (g *Graph) Tree() string {
	tree := treeprint.NewWithRoot("cfg")
	visited := make([]bool, len(g.Blocks))
	g.addNode(tree, 0, visited)
	return tree.String()
}

func (g *Graph) addNode(parent treeprint.Tree, b int, visited []bool) {
	blk := g.Blocks[b]
	label := fmt.Sprintf("block %d [%d..%d)", b, blk.Start, blk.End)
	if visited[b] {
		parent.AddNode(label + " (merge)")
		return
	}
	visited[b] = true
	node := parent.AddBranch(label)
	for _, e := range blk.Succs {
		tag := ""
		if e.Taken {
			tag = " taken"
		}
		if e.Kind == EdgeBack {
			node.AddNode(fmt.Sprintf("-> block %d (back%s)", e.Block, tag))
			continue
		}
		g.addNode(node, e.Block, visited)
	}
}
