package cli

import (
	"dqaudit/internal/flags"
	"dqaudit/internal/schedule"
	"dqaudit/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve verdicts, history, trends and metrics over HTTP",
	Long: `Serve exposes the audit log over a JSON API and Prometheus metrics.
With --cron it also runs scheduled batches in the same process.

Endpoints:
	GET  /healthz
	GET  /metrics
	GET  /api/v1/verdicts[?batch=ID]
	POST /api/v1/runs[?rules=a,b]
	GET  /api/v1/batches[?limit=N]
	GET  /api/v1/batches/{batchID}
	GET  /api/v1/trends
	GET  /api/v1/rules/
	GET  /api/v1/rules/{name}/history
	GET  /api/v1/rules/{name}/trend

Examples:
	dqaudit serve --listen :8080
	dqaudit serve --listen :8080 --cron "@hourly"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		cmd.SetContext(ctx)

		eng := openEngine(cmd)
		defer eng.Close()

		version, _, _ := BuildInfo()
		srv := server.New(eng, server.WithRunTimeout(cfg.Runtime.Timeout), server.WithVersion(version))

		var sched *schedule.Scheduler
		if cronSpec != "" {
			s, err := newScheduler(eng)
			if err != nil {
				return err
			}
			sched = s
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, listenAddr)
		})
		if sched != nil {
			g.Go(func() error {
				return sched.Run(gctx)
			})
		}
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	bindDatasetFlags(serveCmd)
	bindRuleFlags(serveCmd)
	bindSLAFlags(serveCmd)
	bindRuntimeFlags(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, flags.FlagListen, ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&cronSpec, flags.FlagCron, "", "Also run batches on this cron expression (UTC)")
	serveCmd.Flags().StringVar(&cfg.Output.MetricsTextfile, flags.FlagMetricsTextfile, "", "Write Prometheus metrics to this path after every scheduled batch")
}
