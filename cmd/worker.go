package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neuron-sim/neuron-sim/sim/engine"
	"github.com/neuron-sim/neuron-sim/sim/worker"
)

var workerEngine string // Engine run by this worker process

// workerCmd is the worker process body. The orchestrator starts it; it is
// not meant to be run by hand.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one simulation plan read from stdin (internal)",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		log := logrus.WithFields(logrus.Fields{"pid": os.Getpid(), "engine": workerEngine})
		log.Debug("worker starting")
		if err := worker.Serve(ctx, os.Stdin, os.Stdout, workerEngine); err != nil {
			log.Errorf("worker output failed: %v", err)
			stop()
			os.Exit(1)
		}
		log.Debug("worker done")
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerEngine, "engine", engine.DefaultEngine, "Cell engine to run")
	rootCmd.AddCommand(workerCmd)
}
