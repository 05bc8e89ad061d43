package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the configured ICS feeds into the event store",
	Long: `Fetch every feed under ics: in the config and store the events whose
UID is not already present. Existing events, including ones the sweep has
rolled forward, are left alone.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sources := a.icsSources()
	if len(sources) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No ICS feeds configured.")
		return nil
	}

	res, err := a.importer().Import(ctx, sources)
	fmt.Fprintf(cmd.OutOrStdout(), "feeds %d, events %d, created %d, existing %d, failed %d\n",
		res.Feeds, res.Events, res.Created, res.Existing, res.Failed)
	if err != nil {
		appLog.Error("ics import had failures", err)
		return err
	}
	return nil
}
