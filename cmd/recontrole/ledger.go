package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fentz26/recontrole/internal/models"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the notification history",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show [report-id]",
	Short: "Show notifications sent for a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old notification history",
	RunE:  runLedgerPrune,
}

var pruneOlderThan time.Duration

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd, ledgerPruneCmd)

	ledgerPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Retention window (default from config monitor.retention)")
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.service().LedgerHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printLedger(cmd.OutOrStdout(), entries)
	return nil
}

func printLedger(out io.Writer, entries []models.NotificationEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No notifications recorded")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NOTIFIED\tFROM\tTO\tCATEGORY\tLOCATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.NotifiedAt.Local().Format(time.DateTime),
			e.OldStatus,
			e.NewStatus,
			e.Category,
			e.Location,
		)
	}
	w.Flush()
}

func runLedgerPrune(cmd *cobra.Command, args []string) error {
	retention := pruneOlderThan
	if retention == 0 {
		retention = cfg.Monitor.Retention
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.service().PruneLedger(cmd.Context(), retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries older than %s\n", n, retention)
	return nil
}
