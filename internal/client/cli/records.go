package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/spf13/cobra"
)

func (a *App) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection> name=value...",
		Short: "Create a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := models.ParseFieldArgs(args[1:])
			if err != nil {
				return err
			}
			guid, err := a.store.Create(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			a.printf("%s\n", guid)
			return nil
		},
	}
}

func (a *App) updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <collection> <guid> name=value...",
		Short: "Change fields of a record",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := models.ParseFieldArgs(args[2:])
			if err != nil {
				return err
			}
			return a.store.Update(cmd.Context(), args[0], args[1], patch)
		},
	}
}

func (a *App) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <collection> <guid> name=value...",
		Short: "Bring back a deleted record under its old guid",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := models.ParseFieldArgs(args[2:])
			if err != nil {
				return err
			}
			return a.store.Restore(cmd.Context(), args[0], args[1], fields)
		},
	}
}

func (a *App) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <guid>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Delete(cmd.Context(), args[0], args[1])
		},
	}
}

type recordView struct {
	GUID             string         `json:"guid"`
	Fields           map[string]any `json:"fields"`
	TimeCreated      time.Time      `json:"time_created"`
	TimeLastModified time.Time      `json:"time_last_modified"`
	ChangeCounter    int64          `json:"change_counter"`
}

func (a *App) getCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get <collection> <guid>",
		Short: "Show a record; sensitive fields stay hidden unless --reveal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := schema.Lookup(args[0])
			if err != nil {
				return err
			}
			rec, err := a.store.Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			view := recordView{
				GUID:             rec.GUID,
				Fields:           displayFields(c, rec.Fields),
				TimeCreated:      time.UnixMilli(rec.TimeCreated).UTC(),
				TimeLastModified: time.UnixMilli(rec.TimeLastModified).UTC(),
				ChangeCounter:    rec.ChangeCounter,
			}
			if reveal {
				for _, s := range c.Sensitive {
					pt, err := a.store.Reveal(ctx, args[0], args[1], s.Field)
					if err != nil {
						return err
					}
					view.Fields[s.Field] = pt
				}
			}

			out, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			a.printf("%s\n", out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "decrypt sensitive fields")
	return cmd
}

func (a *App) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := schema.Lookup(args[0])
			if err != nil {
				return err
			}
			recs, err := a.store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GUID\tCHANGES\tFIELDS")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%d\t%s\n", r.GUID, r.ChangeCounter, summary(displayFields(c, r.Fields)))
			}
			return w.Flush()
		},
	}
}

// displayFields hides envelopes: a sensitive field shows as "***" followed
// by its hint, if the collection keeps one.
func displayFields(c *schema.Collection, stored models.Fields) map[string]any {
	out := make(map[string]any, len(stored))
	for k, v := range stored {
		if c.IsHint(k) {
			continue
		}
		s, ok := c.SensitiveByColumn(k)
		if !ok {
			out[k] = v
			continue
		}
		masked := ""
		if env, _ := v.(string); env != "" {
			masked = "***"
		}
		if s.HintColumn != "" {
			masked += stored.String(s.HintColumn)
		}
		out[s.Field] = masked
	}
	return out
}

func summary(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == nil || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return strings.Join(parts, " ")
}
