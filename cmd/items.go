package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/saas-radar/internal/model"
	"github.com/sells-group/saas-radar/internal/store"
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Inspect stored items",
}

// -- items top --

var itemsTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List the highest-voted stored items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("inspect"); err != nil {
			return err
		}

		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter, err := itemFilter(category, limit, since, time.Now())
		if err != nil {
			return err
		}

		return withStore(ctx, func(st store.Store) error {
			items, err := st.ListItems(ctx, filter)
			if err != nil {
				return eris.Wrap(err, "items top")
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			if len(items) == 0 {
				fmt.Fprintln(os.Stderr, "No items found.")
				return nil
			}
			formatItems(os.Stdout, items)
			return nil
		})
	},
}

func init() {
	itemsTopCmd.Flags().String("category", "", "filter by category (Video, Text, Productivity, Marketing, Education, Audio, Other)")
	itemsTopCmd.Flags().Int("limit", 20, "max number of items to display")
	itemsTopCmd.Flags().Duration("since", 0, "only items updated within this window (e.g. 168h)")
	itemsTopCmd.Flags().Bool("json", false, "print items as JSON")

	itemsCmd.AddCommand(itemsTopCmd)
	rootCmd.AddCommand(itemsCmd)
}

// itemFilter validates the flag values. Category names are matched
// case-insensitively.
func itemFilter(category string, limit int, since time.Duration, now time.Time) (store.ItemFilter, error) {
	f := store.ItemFilter{Limit: limit}
	if category != "" {
		c := model.ParseCategory(category)
		if !strings.EqualFold(string(c), strings.TrimSpace(category)) {
			return f, eris.Errorf("unknown category %q", category)
		}
		f.Category = c
	}
	if since > 0 {
		f.Since = now.Add(-since).UTC()
	}
	return f, nil
}

// formatItems writes a tabular list of items to out.
func formatItems(out io.Writer, items []model.StoredItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VOTES\tCATEGORY\tTREND\tSOURCE\tTITLE\tTOP_IDEA")
	for _, it := range items {
		idea := ""
		if len(it.Ideas) > 0 {
			idea = it.Ideas[0]
		}
		trend := string(it.TrendSignal)
		if it.EnrichmentSource == model.EnrichmentFallback {
			trend += "*"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			it.Votes, it.Category, trend, it.SourceID, truncate(it.Title, 50), truncate(idea, 60))
	}
	_ = w.Flush()
}
