package merge

import (
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/common"
)

// maxTreeDepth bounds the parent walk; deeper chains are treated as broken.
const maxTreeDepth = 256

// TreeNode is what ValidateTree needs to know about a stored bookmark.
type TreeNode struct {
	Parent string
	Kind   string
}

// TreeLookup resolves a guid to its stored node. found is false when no
// live record has that guid.
type TreeLookup func(guid string) (node TreeNode, found bool, err error)

// ValidateTree checks that a merged bookmark can be placed: its kind is
// known, and its parent chain reaches a root through existing folders
// without passing through the record itself.
func ValidateTree(guid string, fields models.Fields, lookup TreeLookup) error {
	kind := fields.String("kind")
	switch kind {
	case schema.BookmarkKindFolder, schema.BookmarkKindBookmark, schema.BookmarkKindSeparator:
	default:
		return &common.ValidationError{GUID: guid, Field: "kind", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}

	parent := fields.String("parent_guid")
	if parent == "" {
		return &common.ValidationError{GUID: guid, Field: "parent_guid", Reason: "missing parent"}
	}

	seen := map[string]bool{guid: true}
	for depth := 0; !schema.IsBookmarkRoot(parent); depth++ {
		if seen[parent] {
			return &common.ValidationError{GUID: guid, Field: "parent_guid", Reason: "parent chain forms a cycle"}
		}
		if depth >= maxTreeDepth {
			return &common.ValidationError{GUID: guid, Field: "parent_guid", Reason: "parent chain too deep"}
		}
		seen[parent] = true

		node, found, err := lookup(parent)
		if err != nil {
			return err
		}
		if !found {
			return &common.ValidationError{GUID: guid, Field: "parent_guid", Reason: fmt.Sprintf("parent %q does not exist", parent)}
		}
		if node.Kind != schema.BookmarkKindFolder {
			return &common.ValidationError{GUID: guid, Field: "parent_guid", Reason: fmt.Sprintf("parent %q is not a folder", parent)}
		}
		parent = node.Parent
	}
	return nil
}

// ParentsFirst orders guids so that a record whose parent is also in the
// batch comes after that parent. parents maps guid to parent guid. Input
// order is kept otherwise; cycles are broken arbitrarily.
func ParentsFirst(guids []string, parents map[string]string) []string {
	inBatch := make(map[string]bool, len(guids))
	for _, g := range guids {
		inBatch[g] = true
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(guids))
	out := make([]string, 0, len(guids))

	var visit func(g string)
	visit = func(g string) {
		if state[g] != unvisited {
			return
		}
		state[g] = visiting
		if p := parents[g]; inBatch[p] {
			visit(p)
		}
		state[g] = done
		out = append(out, g)
	}
	for _, g := range guids {
		visit(g)
	}
	return out
}
