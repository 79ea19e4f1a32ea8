package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neuron-sim/neuron-sim/sim/store"
)

var (
	statusDB     string // Result store to read
	statusFilter string // Status filter when listing
)

// statusCmd prints one stored simulation, or lists them when no id is given
var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show stored simulation status and results",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if statusDB == "" {
			logrus.Fatalf("Result store not provided. Use --db.")
		}
		st, err := store.Open(statusDB)
		if err != nil {
			logrus.Fatalf("Failed to open result store: %v", err)
		}
		defer st.Close()

		ctx := context.Background()
		if len(args) == 1 {
			err = printSimulation(ctx, st, args[0], os.Stdout)
		} else {
			var status store.Status
			if status, err = store.ParseStatus(statusFilter); err == nil {
				err = printSimulationList(ctx, st, status, os.Stdout)
			}
		}
		if err != nil {
			logrus.Errorf("%v", err)
			st.Close()
			os.Exit(1)
		}
	},
}

func printSimulation(ctx context.Context, st *store.SQLiteStore, id string, w io.Writer) error {
	sm, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sm)
}

func printSimulationList(ctx context.Context, st *store.SQLiteStore, status store.Status, w io.Writer) error {
	sims, err := st.List(ctx, status)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tSTATUS\tUPDATED\tERROR")
	for _, sm := range sims {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sm.ID, sm.ModelRef, sm.Status, sm.UpdatedAt.Format(time.RFC3339), sm.Error)
	}
	return tw.Flush()
}

func init() {
	statusCmd.Flags().StringVar(&statusDB, "db", "", "SQLite result store")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Only list simulations with this status (pending, started, success, failure)")
	rootCmd.AddCommand(statusCmd)
}
