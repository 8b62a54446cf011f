package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/skuscan/internal/store"
	"github.com/andresmejia3/skuscan/internal/utils"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:         "runs",
	Short:       "Show the history of recorded runs",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runs, err := DB.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			utils.Die("Failed to list runs", err, nil)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return
		}
		printRuns(os.Stdout, runs)
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Show at most this many runs (0 for all)")
	rootCmd.AddCommand(runsCmd)
}

func printRuns(out io.Writer, runs []store.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tVIDEO\tSTARTED\tDURATION\tREAD\tDROPPED\tINFERRED\tERRORS")
	fmt.Fprintln(w, "---\t-----\t-------\t--------\t----\t-------\t--------\t------")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			shortRunID(r.RunID), r.VideoPath, r.StartedAt.Local().Format("2006-01-02 15:04"),
			fmtDuration(r.FinishedAt.Sub(r.StartedAt).Seconds()),
			r.FramesRead, r.FramesDropped, r.FramesForwarded, r.DetectorErrors)
	}
	w.Flush()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// fmtDuration formats seconds as HH:MM:SS
func fmtDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	h := s / 3600
	m := (s % 3600) / 60
	s = s % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
