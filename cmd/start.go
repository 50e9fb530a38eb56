package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/shiftq/internal/engine"
	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/timecalc"
)

// actionAt is the --at clock time shared by all action commands.
var actionAt string

var startCmd = &cobra.Command{
	Use:   "start <employee> <job>",
	Short: "Start a shift for an employee on a job",
	Args:  cobra.ExactArgs(2),
	RunE:  runActionCmd(model.KindStart),
}

var switchCmd = &cobra.Command{
	Use:   "switch <employee> <job>",
	Short: "Move an active employee to another job",
	Args:  cobra.ExactArgs(2),
	RunE:  runActionCmd(model.KindSwitch),
}

func init() {
	for _, c := range []*cobra.Command{startCmd, switchCmd, endCmd, cancelCmd, registerCmd} {
		c.Flags().StringVar(&actionAt, "at", "", "Clock time HH:MM to record (default now)")
	}
}

func runActionCmd(kind model.ActionKind) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := buildAction(kind, args, actionAt, nil, time.Now())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return submitAction(cmd.Context(), a)
	}
}

// buildAction turns command arguments into an action. args are the employee
// and, for kinds that need one, the job.
func buildAction(kind model.ActionKind, args []string, at string, qty *int, now time.Time) (model.Action, error) {
	a := model.Action{
		EmployeeID: strings.TrimSpace(args[0]),
		Kind:       kind,
		ClockTime:  at,
		Quantity:   qty,
	}
	if len(args) > 1 {
		a.JobID = strings.TrimSpace(args[1])
	}
	if a.ClockTime == "" {
		a.ClockTime = timecalc.ClockTime(now)
	}
	return a, a.Validate()
}

// submitAction makes one delivery attempt and reports the outcome. A queued
// action is not an error; a rejected one exits with status 2.
func submitAction(ctx context.Context, a model.Action) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e, closeFn := openSection(ctx)
	defer closeFn()

	p, accepted, err := e.Submit(ctx, a, engine.Callbacks{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !accepted {
		fmt.Fprintf(os.Stderr, "%s for %s is already in flight.\n", a.Kind, a.EmployeeID)
		os.Exit(1)
	}
	res, err := p.Wait(ctx)
	if err != nil {
		return err
	}

	switch {
	case res.Delivered:
		fmt.Println(describe(a))
	case res.Queued:
		fmt.Printf("%s (backend unreachable, queued for retry; %d pending)\n", describe(a), len(e.Pending()))
	default:
		closeFn()
		fmt.Fprintf(os.Stderr, "Backend rejected %s for %s: %v\n", a.Kind, a.EmployeeID, res.Err)
		os.Exit(2)
	}
	return nil
}

func describe(a model.Action) string {
	switch a.Kind {
	case model.KindStart:
		return fmt.Sprintf("Started %s on job %s at %s", a.EmployeeID, a.JobID, a.ClockTime)
	case model.KindSwitch:
		return fmt.Sprintf("Switched %s to job %s at %s", a.EmployeeID, a.JobID, a.ClockTime)
	case model.KindEnd:
		return fmt.Sprintf("Ended shift of %s at %s", a.EmployeeID, a.ClockTime)
	case model.KindCancel:
		return fmt.Sprintf("Cancelled shift of %s", a.EmployeeID)
	case model.KindRegister:
		return fmt.Sprintf("Registered %d on job %s for %s", *a.Quantity, a.JobID, a.EmployeeID)
	}
	return string(a.Kind)
}
