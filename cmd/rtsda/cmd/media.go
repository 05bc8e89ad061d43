package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/media"
)

var mediaCmd = &cobra.Command{
	Use:   "media [sermon|livestream]",
	Short: "Look up the latest sermon or the current livestream",
	Long: `Look up the latest sermon recording and the current or next livestream
on the configured YouTube channel. With no argument both are shown.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"sermon", "livestream"},
	RunE:      runMedia,
}

var mediaJSON bool

func init() {
	rootCmd.AddCommand(mediaCmd)
	mediaCmd.Flags().BoolVar(&mediaJSON, "json", false, "print JSON")
}

func runMedia(cmd *cobra.Command, args []string) error {
	kinds := []media.Kind{media.KindLatestSermon, media.KindLivestream}
	if len(args) == 1 {
		k, err := media.ParseKind(args[0])
		if err != nil {
			return err
		}
		kinds = []media.Kind{k}
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := requireMedia(a); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	results := make(map[media.Kind]*media.Video, len(kinds))
	for _, k := range kinds {
		v, err := a.media.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		results[k] = v
	}

	if mediaJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, k := range kinds {
		v := results[k]
		if v == nil {
			fmt.Fprintf(out, "%s: none\n", k)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n  %s\n", k, v.Title, v.URL)
		if !v.ScheduledStart.IsZero() {
			fmt.Fprintf(out, "  scheduled %s\n", v.ScheduledStart.In(a.sched.Location()).Format("Mon Jan 02 15:04"))
		}
	}
	return nil
}
