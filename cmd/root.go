package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neuron-sim/neuron-sim/sim/engine"
	"github.com/neuron-sim/neuron-sim/sim/worker"
)

var (
	logLevel     string        // Log verbosity level
	engineName   string        // Cell engine run by workers
	pollInterval time.Duration // Drain poll interval
	gracePeriod  time.Duration // Cleanup grace period
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "neuron-sim",
	Short: "Process-isolated neuron simulation orchestrator",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		logrus.SetOutput(os.Stderr)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newWorkerManager builds a manager that re-executes this binary as a worker
// running engineName at the current log level.
func newWorkerManager(engineName string) (*worker.Manager, error) {
	return worker.NewManager(worker.Options{Args: workerArgs(engineName, logLevel)})
}

func workerArgs(engineName, level string) []string {
	if engineName == "" {
		engineName = engine.DefaultEngine
	}
	return []string{"worker", "--engine", engineName, "--log", level}
}

// init sets up persistent flags shared by every subcommand
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
}
