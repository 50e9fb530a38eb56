package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Tiliavir/shiftq/internal/model"
)

var endCmd = &cobra.Command{
	Use:   "end <employee>",
	Short: "End the active shift of an employee",
	Long: `End the active shift of an employee. Ending a shift the backend no longer
knows about is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runActionCmd(model.KindEnd),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <employee>",
	Short: "Cancel the active shift of an employee without booking it",
	Args:  cobra.ExactArgs(1),
	RunE:  runActionCmd(model.KindCancel),
}
