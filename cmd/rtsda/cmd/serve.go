package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled sweep",
	Long: `Serve the HTTP API, roll recurring events forward on sweep_cron, and
re-import the configured ICS feeds after each start.

Runs until SIGINT or SIGTERM.`,
	RunE: runServe,
}

var skipImport bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&skipImport, "no-import", false, "do not import ICS feeds on start")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	defer appLog.Sync()

	if !skipImport && len(a.cfg.ICS) > 0 {
		if res, err := a.importer().Import(ctx, a.icsSources()); err != nil {
			appLog.Error("startup ICS import had failures", err, "created", res.Created, "failed", res.Failed)
		}
	}

	sw := a.sweeper()
	// Catch up on anything that lapsed while the server was down.
	if _, err := sw.RunOnce(ctx); err != nil {
		appLog.Error("startup sweep failed", err)
	}
	if err := sw.Start(a.cfg.SweepCron); err != nil {
		return err
	}
	defer sw.Stop()

	deps := web.Deps{
		Config:    a.cfg,
		Events:    a.store,
		Scheduler: a.sched,
	}
	if a.media != nil {
		deps.Media = a.media
	}
	if a.registry != nil {
		deps.Gatherer = a.registry
	}
	srv := web.NewServer(deps)
	stopWatch := srv.Watch(ctx, a.notifier)
	defer stopWatch()

	if err := web.StartServer(ctx, a.cfg.Listen, srv.Handler()); err != nil {
		return err
	}
	appLog.Info("rtsda exiting")
	return nil
}
