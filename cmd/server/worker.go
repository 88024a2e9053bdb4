package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"tradiehub/internal/tasks"
)

func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process reconcile tasks and run the scheduled reconcile sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.redis == nil {
				return fmt.Errorf("worker needs Redis; it cannot run with --memory")
			}

			noSweep, _ := cmd.Flags().GetBool("no-sweep")
			if !noSweep {
				sweeper, err := tasks.NewSweeper(a.registry, tasks.NewQueue(a.asynqClient), a.cfg.ReconcileCron, a.cfg.ReconcilePageSize)
				if err != nil {
					return err
				}
				go sweeper.Run(cmd.Context())
			}

			srv := tasks.SetupServer(tasks.RedisOpt(a.redis), a.cfg.WorkerConcurrency)
			mux := tasks.NewServeMux(tasks.NewTaskProcessor(a.coordinator))
			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("could not start asynq server: %w", err)
			}
			log.Printf("🚀 Worker started (concurrency %d, sweep %q)", a.cfg.WorkerConcurrency, a.cfg.ReconcileCron)

			<-cmd.Context().Done()
			srv.Shutdown()
			log.Println("👋 Worker stopped")
			return nil
		},
	}
	cmd.Flags().Bool("no-sweep", false, "process queued tasks only")
	return cmd
}
