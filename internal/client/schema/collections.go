package schema

import (
	"fmt"
	"slices"
)

const (
	Addresses   = "addresses"
	CreditCards = "creditcards"
	Passwords   = "passwords"
	Bookmarks   = "bookmarks"
	History     = "history"
)

// BookmarkUnfiled is the root that receives bookmarks whose folder was
// deleted elsewhere.
const BookmarkUnfiled = "unfiled_____"

// Bookmark tree roots. They are implicit and never stored.
var BookmarkRoots = []string{
	"root________",
	"menu________",
	"toolbar_____",
	BookmarkUnfiled,
	"mobile______",
}

const (
	BookmarkKindFolder    = "folder"
	BookmarkKindBookmark  = "bookmark"
	BookmarkKindSeparator = "separator"
)

func IsBookmarkRoot(guid string) bool {
	return slices.Contains(BookmarkRoots, guid)
}

var builtin = []*Collection{
	{
		Name:  Addresses,
		Table: "addresses",
		Columns: []Column{
			{Name: "name"},
			{Name: "organization"},
			{Name: "street_address"},
			{Name: "address_level3"},
			{Name: "address_level2"},
			{Name: "address_level1"},
			{Name: "postal_code"},
			{Name: "country"},
			{Name: "tel"},
			{Name: "email"},
			{Name: "times_used", Kind: Integer},
		},
	},
	{
		Name:  CreditCards,
		Table: "creditcards",
		Columns: []Column{
			{Name: "cc_name"},
			{Name: "cc_number_enc"},
			{Name: "cc_number_last_4"},
			{Name: "cc_exp_month", Kind: Integer},
			{Name: "cc_exp_year", Kind: Integer},
			{Name: "cc_type"},
			{Name: "times_used", Kind: Integer},
		},
		Sensitive: []SensitiveField{
			{Field: "cc_number", Column: "cc_number_enc", HintColumn: "cc_number_last_4", HintLen: 4},
		},
	},
	{
		Name:  Passwords,
		Table: "passwords",
		Columns: []Column{
			{Name: "origin", Required: true},
			{Name: "http_realm"},
			{Name: "form_action_origin"},
			{Name: "username_field"},
			{Name: "password_field"},
			{Name: "username"},
			{Name: "password_enc"},
			{Name: "times_used", Kind: Integer},
		},
		Sensitive: []SensitiveField{
			{Field: "password", Column: "password_enc"},
		},
	},
	{
		Name:     Bookmarks,
		Table:    "bookmarks",
		Strategy: Tree,
		Columns: []Column{
			{Name: "parent_guid", Required: true},
			{Name: "kind", Required: true},
			{Name: "title"},
			{Name: "url"},
			{Name: "position", Kind: Integer},
		},
	},
	{
		Name:     History,
		Table:    "history",
		Strategy: Log,
		LogField: "visits",
		Columns: []Column{
			{Name: "url", Required: true},
			{Name: "title"},
			{Name: "visits", Kind: JSON},
		},
	},
}

func init() {
	for _, c := range builtin {
		if err := c.validate(); err != nil {
			panic(err)
		}
	}
}

// Collections returns the built-in collections in sync order.
func Collections() []*Collection {
	return slices.Clone(builtin)
}

// Lookup finds a built-in collection by server name.
func Lookup(name string) (*Collection, error) {
	for _, c := range builtin {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown collection %q", name)
}

// Select resolves names to collections, keeping the built-in order. An empty
// list selects everything.
func Select(names []string) ([]*Collection, error) {
	if len(names) == 0 {
		return Collections(), nil
	}
	for _, n := range names {
		if _, err := Lookup(n); err != nil {
			return nil, err
		}
	}
	var out []*Collection
	for _, c := range builtin {
		if slices.Contains(names, c.Name) {
			out = append(out, c)
		}
	}
	return out, nil
}
