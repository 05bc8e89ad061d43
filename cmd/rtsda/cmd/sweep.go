package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Roll lapsed recurring events forward once",
	Long: `Advance every recurring event whose start has passed to its next
upcoming occurrence, then exit. Useful from an external scheduler when the
server is not running.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.sweeper().RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "lapsed %d, advanced %d, skipped %d, failed %d\n",
		res.Lapsed, res.Advanced, res.Skipped, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d events could not be advanced", res.Failed)
	}
	return nil
}
