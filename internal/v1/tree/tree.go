// Package tree builds the nested channel hierarchy broadcast to clients from
// the flat rows the store returns. Building is pure; callers rebuild on every
// structural change rather than mutating a cached tree.
package tree

import (
	"sort"

	"github.com/reson8/reson8/server/go/internal/v1/store"
)

// Node is one channel with its ordered children. Occupants stay empty here;
// the channel service fills them from presence when a tree is emitted.
type Node struct {
	store.Channel
	Children  []*Node    `json:"children"`
	Occupants []Occupant `json:"occupants"`
}

// Occupant is a user currently inside the channel.
type Occupant struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// Build assembles the channel forest. Channels whose parent is missing are
// promoted to the root level. Siblings are ordered by (position, id) at every
// level so the layout is stable across rebuilds.
func Build(channels []store.Channel) []*Node {
	nodes := make(map[string]*Node, len(channels))
	for i := range channels {
		nodes[channels[i].ID] = &Node{Channel: channels[i], Children: []*Node{}, Occupants: []Occupant{}}
	}

	var roots []*Node
	for _, n := range nodes {
		if n.ParentID != nil {
			if parent, ok := nodes[*n.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}

	sortLevel(roots)
	for _, n := range nodes {
		sortLevel(n.Children)
	}
	return roots
}

// Flatten is the inverse of Build: a depth-first walk back to flat rows.
func Flatten(roots []*Node) []store.Channel {
	var out []store.Channel
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			out = append(out, n.Channel)
			walk(n.Children)
		}
	}
	walk(roots)
	return out
}

// WouldCycle reports whether reparenting channelID under newParentID would
// create a cycle (including self-parenting).
func WouldCycle(channels []store.Channel, channelID, newParentID string) bool {
	if channelID == newParentID {
		return true
	}
	parents := make(map[string]*string, len(channels))
	for i := range channels {
		parents[channels[i].ID] = channels[i].ParentID
	}

	// Walk up from the candidate parent; hitting channelID means the move
	// would fold the subtree onto itself.
	cur := &newParentID
	for steps := 0; cur != nil && steps <= len(channels); steps++ {
		if *cur == channelID {
			return true
		}
		cur = parents[*cur]
	}
	return false
}

func sortLevel(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Position != nodes[j].Position {
			return nodes[i].Position < nodes[j].Position
		}
		return nodes[i].ID < nodes[j].ID
	})
}
