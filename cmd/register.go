package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/shiftq/internal/model"
)

var registerQty int

var registerCmd = &cobra.Command{
	Use:   "register <employee> <job>",
	Short: "Register a produced quantity on a job",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

func init() {
	registerCmd.Flags().IntVar(&registerQty, "qty", 0, "Produced quantity (required, > 0)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := buildAction(model.KindRegister, args, actionAt, &registerQty, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return submitAction(cmd.Context(), a)
}
