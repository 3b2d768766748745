package cli

import (
	"dqaudit/internal/engine"
	"dqaudit/internal/flags"
	"dqaudit/internal/schedule"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var cronSpec string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run batches on a cron schedule",
	Long: `Schedule runs a batch of the selected rules every time the cron expression
fires, until interrupted. A batch still running when the next tick fires
causes that tick to be skipped. Times are UTC.

Accepted expressions: five fields (minute hour dom month dow), six fields
with leading seconds, or descriptors such as @hourly and @every 15m.

Examples:
	dqaudit schedule --cron "0 6 * * *"
	dqaudit schedule --cron "@every 30m" --metrics-textfile /var/lib/node_exporter/dqaudit.prom`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cronSpec == "" {
			return fmt.Errorf("--%s must be provided", flags.FlagCron)
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		cmd.SetContext(ctx)

		eng := openEngine(cmd)
		defer eng.Close()

		s, err := newScheduler(eng)
		if err != nil {
			return err
		}
		return s.Run(ctx)
	},
}

func newScheduler(eng *engine.Engine) (*schedule.Scheduler, error) {
	return schedule.New(eng, cronSpec,
		schedule.WithSelector(cfg.Rules.Selector),
		schedule.WithTimeout(cfg.Runtime.Timeout),
		schedule.WithResultFunc(func(engine.Evaluation, error) {
			if cfg.Output.MetricsTextfile == "" {
				return
			}
			if err := eng.Metrics.WriteTextfile(cfg.Output.MetricsTextfile); err != nil {
				slog.Warn("metrics textfile", "path", cfg.Output.MetricsTextfile, "error", err)
			}
		}),
	)
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	bindDatasetFlags(scheduleCmd)
	bindRuleFlags(scheduleCmd)
	bindSLAFlags(scheduleCmd)
	bindRuntimeFlags(scheduleCmd)
	scheduleCmd.Flags().StringVar(&cronSpec, flags.FlagCron, "", "Cron expression (UTC)")
	scheduleCmd.Flags().StringVar(&cfg.Output.MetricsTextfile, flags.FlagMetricsTextfile, "", "Write Prometheus metrics to this path after every batch")
}
