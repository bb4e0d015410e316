package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/fallwatch/internal/utils"
	"github.com/spf13/cobra"
)

var (
	alertsSource string
	alertsLimit  int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recorded fall alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAlerts(cmd)
	},
}

func init() {
	alertsCmd.Flags().StringVarP(&alertsSource, "source", "s", "", "Only show alerts from this source")
	alertsCmd.Flags().IntVarP(&alertsLimit, "limit", "l", 50, "Maximum number of alerts to show")
	rootCmd.AddCommand(alertsCmd)
}

func runAlerts(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if err := openDB(ctx, true); err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}

	records, err := DB.ListAlerts(ctx, alertsSource, alertsLimit)
	if err != nil {
		utils.ShowError("Failed to list alerts", err, nil)
		return err
	}

	if len(records) == 0 {
		fmt.Println("No alerts found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SEQ\tSOURCE\tPERSON\tFRAME\tFRAMES DOWN\tARTIFACT\tDETECTED")
	fmt.Fprintln(w, "---\t------\t------\t-----\t-----------\t--------\t--------")

	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n", r.Sequence, r.SourceID, r.Identity, r.FrameIndex,
			r.ConsecutiveFrames, r.Artifact, r.DetectedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
