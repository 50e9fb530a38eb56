package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/shiftq/internal/reconcile"
	"github.com/Tiliavir/shiftq/internal/timecalc"
)

var statusRefresh bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who is active and how many actions are pending",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusRefresh, "refresh", false, "Reconcile with the backend before printing")
}

func runStatus(cmd *cobra.Command, args []string) error {
	now := time.Now()
	e, closeFn := openSection(cmd.Context())
	defer closeFn()

	if statusRefresh {
		if _, err := e.Refresh(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not reach backend, showing last known state: %v\n", err)
		}
	}

	fmt.Printf("Section: %s\n", e.Name())
	printSessions(e.Sessions())

	pending := e.Pending()
	if len(pending) == 0 {
		fmt.Println("Nothing pending.")
		return nil
	}
	next := pending[0].NextEligibleAt
	for _, r := range pending[1:] {
		if r.NextEligibleAt.Before(next) {
			next = r.NextEligibleAt
		}
	}
	fmt.Printf("Pending: %d action(s), next attempt %s.\n", len(pending), timecalc.Until(next, now))
	return nil
}

func printSessions(snap reconcile.Snapshot) {
	sessions := snap.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No active shifts.")
		return
	}
	fmt.Println("Active:")
	for _, s := range sessions {
		fmt.Printf("  %-20s job %s\n", s.EmployeeID, s.JobID)
	}
}
