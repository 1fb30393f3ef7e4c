package main

import (
	"fmt"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/spf13/cobra"
)

var inspectOpCmd = &cobra.Command{
	Use:   "inspect-op <operation-id-hex>",
	Short: "Print the recorded operation-log history for one operation id",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectOp,
}

func runInspectOp(cmd *cobra.Command, args []string) error {
	var opID smkit.OperationId
	if err := opID.UnmarshalText([]byte(args[0])); err != nil {
		return fmt.Errorf("parse operation id: %w", err)
	}

	ctx := cmd.Context()
	a, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	printHistory(a.ex, opID)
	return nil
}
