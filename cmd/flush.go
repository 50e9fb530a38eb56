package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Try to deliver every pending action that is due now",
	Args:  cobra.NoArgs,
	RunE:  runFlush,
}

func runFlush(cmd *cobra.Command, args []string) error {
	e, closeFn := openSection(cmd.Context())
	defer closeFn()

	before := len(e.Pending())
	if before == 0 {
		fmt.Println("Nothing pending.")
		return nil
	}
	delivered, failed := e.Flush(cmd.Context())
	fmt.Printf("Delivered %d, rejected %d, %d still pending.\n", delivered, failed, len(e.Pending()))
	return nil
}
