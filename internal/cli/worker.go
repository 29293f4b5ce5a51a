package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"competition-service/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewWorkerCmd runs only the background loops, for deployments that scale
// them separately from the HTTP tier.
func NewWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the email dispatcher and finalize sweeper without the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := loadRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			g, gctx := errgroup.WithContext(ctx)
			startWorkers(gctx, g, rt)
			return g.Wait()
		},
	}
}

func startWorkers(ctx context.Context, g *errgroup.Group, rt *runtime) {
	g.Go(func() error {
		rt.log.Info("email dispatcher started")
		return rt.services.Dispatcher.Run(ctx)
	})
	g.Go(func() error {
		interval := config.TTLDuration(rt.cfg.Competition.SweepInterval, 0)
		rt.log.WithField("interval", interval.String()).Info("finalize sweeper started")
		return rt.services.Competitions.RunFinalizeSweeper(ctx, interval)
	})
}
