package dump

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Browse opens an interactive tree browser over the dump. Enter expands or
// collapses a node, Escape or q leaves.
func Browse(root *Node) error {
	treeRoot := buildTreeNode(root)
	treeRoot.SetExpanded(true)

	view := tview.NewTreeView().
		SetRoot(treeRoot).
		SetCurrentNode(treeRoot)
	view.SetBorder(true).SetTitle(" " + root.Title + " ")

	view.SetSelectedFunc(func(node *tview.TreeNode) {
		node.SetExpanded(!node.IsExpanded())
	})

	app := tview.NewApplication()
	view.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})
	return app.SetRoot(view, true).Run()
}

func buildTreeNode(node *Node) *tview.TreeNode {
	treeNode := tview.NewTreeNode(node.Title).
		SetColor(tcell.ColorGreen).
		SetSelectable(true)
	for _, field := range node.Fields {
		treeNode.AddChild(
			tview.NewTreeNode(fmt.Sprintf("%-20s %s", field.Name, field.Value)).
				SetColor(tcell.ColorDefault).
				SetSelectable(false))
	}
	for _, child := range node.Children {
		childNode := buildTreeNode(child)
		childNode.SetExpanded(false)
		treeNode.AddChild(childNode)
	}
	return treeNode
}
