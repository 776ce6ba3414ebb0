package workflow

import (
	"errors"
	"sort"
)

var (
	ErrSelfParent  = errors.New("task cannot be its own parent")
	ErrParentCycle = errors.New("parent assignment would create a cycle")
)

// TreeNode is the slice of a task that the subtask tree needs.
type TreeNode struct {
	ID       string
	ParentID string
}

// Tree indexes tasks by id. The parent to children index is derived on demand
// so deleting a task never leaves dangling references behind.
type Tree struct {
	nodes map[string]TreeNode
}

func BuildTree(nodes []TreeNode) *Tree {
	tree := &Tree{nodes: make(map[string]TreeNode, len(nodes))}
	for _, node := range nodes {
		tree.nodes[node.ID] = node
	}
	return tree
}

func (t *Tree) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// Children returns the direct subtasks of id sorted by id.
func (t *Tree) Children(id string) []string {
	var children []string
	for _, node := range t.nodes {
		if node.ParentID == id {
			children = append(children, node.ID)
		}
	}
	sort.Strings(children)
	return children
}

// Descendants returns every task below id, breadth first.
func (t *Tree) Descendants(id string) []string {
	index := t.childIndex()
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range index[current] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// Ancestors walks parent links from id upward, stopping at a root, an unknown
// id or a repeated id.
func (t *Tree) Ancestors(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	current := t.nodes[id].ParentID
	for current != "" && !seen[current] {
		seen[current] = true
		out = append(out, current)
		node, ok := t.nodes[current]
		if !ok {
			break
		}
		current = node.ParentID
	}
	return out
}

// CheckParent validates that making parentID the parent of taskID keeps the
// structure a forest. An empty parentID detaches the task.
func (t *Tree) CheckParent(taskID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == taskID {
		return ErrSelfParent
	}
	for _, ancestor := range append([]string{parentID}, t.Ancestors(parentID)...) {
		if ancestor == taskID {
			return ErrParentCycle
		}
	}
	return nil
}

func (t *Tree) childIndex() map[string][]string {
	index := make(map[string][]string)
	for _, node := range t.nodes {
		if node.ParentID != "" {
			index[node.ParentID] = append(index[node.ParentID], node.ID)
		}
	}
	for parent := range index {
		sort.Strings(index[parent])
	}
	return index
}
