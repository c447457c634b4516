package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fentz26/recontrole/internal/controlplane"
	"github.com/fentz26/recontrole/internal/lock"
	"github.com/fentz26/recontrole/internal/models"
	"github.com/fentz26/recontrole/internal/monitor"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run and inspect the occurrence monitor",
}

var monitorOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one monitor cycle in this process",
	RunE:  runMonitorOnce,
}

var monitorHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent monitor cycles",
	RunE:  runMonitorHistory,
}

var monitorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's monitor schedule",
	RunE:  runMonitorStatus,
}

var monitorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Ask the daemon to run the monitor now",
	RunE:  runMonitorRun,
}

var (
	historyLimit int
	statusLimit  int
)

func init() {
	monitorCmd.AddCommand(monitorOnceCmd, monitorHistoryCmd, monitorStatusCmd, monitorRunCmd)

	monitorHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of cycles to show")
	monitorStatusCmd.Flags().IntVar(&statusLimit, "limit", 5, "Number of cycles to show")
}

func runMonitorOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.newMonitor(nil)
	if err != nil {
		return err
	}

	locker, closeLocker, err := a.newLocker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()

	lease, err := locker.Acquire(ctx, cfg.Schedule.Name, cfg.Schedule.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return fmt.Errorf("monitor %s is already running elsewhere", cfg.Schedule.Name)
	}
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	printReport(cmd.OutOrStdout(), task.RunCycle(ctx))
	return nil
}

func printReport(w io.Writer, rep monitor.Report) {
	fmt.Fprintf(w, "Cycle:       %s\n", rep.CycleID)
	fmt.Fprintf(w, "Outcome:     %s (%s)\n", rep.Outcome, rep.Reason)
	fmt.Fprintf(w, "Fetched:     %d\n", rep.Fetched)
	fmt.Fprintf(w, "Transitions: %d\n", rep.Transitions)
	fmt.Fprintf(w, "Notified:    %d\n", rep.Notified)
	fmt.Fprintf(w, "Suppressed:  %d\n", rep.Suppressed)
	if rep.Pruned > 0 {
		fmt.Fprintf(w, "Pruned:      %d\n", rep.Pruned)
	}
	fmt.Fprintf(w, "Duration:    %s\n", rep.EndedAt.Sub(rep.StartedAt).Round(time.Millisecond))
}

func runMonitorHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	cycles, err := a.store.ListCycles(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	printCycles(cmd.OutOrStdout(), cycles)
	return nil
}

func printCycles(out io.Writer, cycles []models.Cycle) {
	if len(cycles) == 0 {
		fmt.Fprintln(out, "No cycles recorded")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tOUTCOME\tREASON\tFETCHED\tNOTIFIED\tSUPPRESSED")
	for _, c := range cycles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			truncateID(c.ID),
			c.StartedAt.Local().Format(time.DateTime),
			c.Outcome,
			c.Reason,
			c.Fetched,
			c.Notified,
			c.Suppressed,
		)
	}
	w.Flush()
}

func runMonitorStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	health, err := CheckHealth()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Daemon:    %s (db %s)\n", health.Version, health.DB)

	resp, err := apiGet(fmt.Sprintf("/monitor?limit=%d", statusLimit))
	if err != nil {
		return err
	}

	var status controlplane.MonitorStatus
	if err := json.Unmarshal(resp, &status); err != nil {
		return err
	}

	if !status.Scheduled || status.Work == nil {
		fmt.Fprintf(out, "Monitor:   %s is not scheduled\n", status.Name)
	} else {
		info := status.Work
		fmt.Fprintf(out, "Monitor:   %s\n", info.Name)
		fmt.Fprintf(out, "State:     %s\n", info.State)
		fmt.Fprintf(out, "Period:    %s\n", info.Period)
		fmt.Fprintf(out, "Next run:  %s\n", info.NextRun.Local().Format(time.DateTime))
		if !info.LastRun.IsZero() {
			fmt.Fprintf(out, "Last run:  %s (%s)\n", info.LastRun.Local().Format(time.DateTime), info.LastOutcome)
		}
		fmt.Fprintf(out, "Runs:      %d\n", info.Runs)
	}
	fmt.Fprintln(out)
	printCycles(out, status.Cycles)
	return nil
}

func runMonitorRun(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/monitor/run", nil); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Monitor run requested")
	return nil
}
