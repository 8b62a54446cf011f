package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/andresmejia3/skuscan/internal/sku"
	"github.com/andresmejia3/skuscan/internal/store"
	"github.com/andresmejia3/skuscan/internal/utils"
	"github.com/spf13/cobra"
)

var skusCmd = &cobra.Command{
	Use:         "skus",
	Short:       "Manage the label to SKU code catalogue",
	Annotations: map[string]string{dbAnnotation: dbRequired},
}

var skusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in and stored SKU codes",
	Run: func(cmd *cobra.Command, args []string) {
		codes, err := DB.ListSkus(cmd.Context())
		if err != nil {
			utils.Die("Failed to list SKU codes", err, nil)
		}
		printSkus(os.Stdout, sku.Default(), codes)
	},
}

var skusSetCmd = &cobra.Command{
	Use:   "set <label> <code>",
	Short: "Assign a SKU code to a detection label",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		code, err := strconv.Atoi(args[1])
		if err != nil {
			utils.Die("Invalid SKU code", err, nil)
		}
		if err := DB.UpsertSku(cmd.Context(), args[0], code); err != nil {
			utils.Die("Failed to save SKU code", err, nil)
		}
		fmt.Printf("✅ Label '%s' mapped to SKU %04d\n", args[0], code)
	},
}

var skusDeleteCmd = &cobra.Command{
	Use:   "delete <label>",
	Short: "Remove a stored SKU code (built-in codes apply again)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := DB.DeleteSku(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			fmt.Printf("No stored code for '%s'.\n", args[0])
			return
		}
		if err != nil {
			utils.Die("Failed to delete SKU code", err, nil)
		}
		fmt.Printf("🗑️  Removed stored code for '%s'\n", args[0])
	},
}

func init() {
	skusCmd.AddCommand(skusListCmd, skusSetCmd, skusDeleteCmd)
	rootCmd.AddCommand(skusCmd)
}

// printSkus writes the effective table. Stored codes override built-in ones.
func printSkus(out io.Writer, builtin sku.Mapping, stored []store.SkuCode) {
	type row struct {
		code    int
		source  string
		updated string
	}
	rows := make(map[string]row)
	for _, label := range builtin.Labels() {
		code, _ := builtin.Lookup(label)
		rows[label] = row{code: code, source: "built-in", updated: "-"}
	}
	for _, c := range stored {
		rows[c.Label] = row{code: c.Code, source: "database", updated: c.UpdatedAt.Local().Format("2006-01-02 15:04")}
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tSKU\tSOURCE\tUPDATED")
	fmt.Fprintln(w, "-----\t---\t------\t-------")
	for _, label := range slices.Sorted(maps.Keys(rows)) {
		r := rows[label]
		fmt.Fprintf(w, "%s\t%04d\t%s\t%s\n", label, r.code, r.source, r.updated)
	}
	w.Flush()
}
