package main

import (
	"fmt"

	"github.com/MrImmortal09/fedimint/internal/modules/deposit"
	"github.com/MrImmortal09/fedimint/internal/modules/pingpong"
	"github.com/MrImmortal09/fedimint/pkg/executor"
	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Admit a fresh pingpong and deposit operation and drive them to completion",
	RunE:  runRun,
}

// mintOperationID copies a fresh 16-byte uuid into the leading bytes of the
// wire OperationId; the remaining bytes stay zero. The wire id stays a fixed
// [32]byte; callers just need a source of fresh ones.
func mintOperationID() smkit.OperationId {
	id := uuid.New()
	return smkit.OperationIdFromBytes(id[:])
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.ex.Start(ctx); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}

	pingOp := mintOperationID()
	if _, err := a.ex.AddStateMachine(ctx, pingpong.NewMachine(instancePingPong, pingOp)); err != nil {
		return fmt.Errorf("admit pingpong machine: %w", err)
	}
	a.log.Info().Str("operation_id", pingOp.String()).Msg("admitted pingpong operation")

	depositOp := mintOperationID()
	if _, err := a.ex.AddStateMachine(ctx, deposit.NewMachine(instanceDeposit, depositOp)); err != nil {
		return fmt.Errorf("admit deposit machine: %w", err)
	}
	a.log.Info().Str("operation_id", depositOp.String()).Msg("admitted deposit operation")

	for _, opID := range []smkit.OperationId{pingOp, depositOp} {
		if err := a.ex.AwaitInactive(ctx, opID); err != nil {
			return fmt.Errorf("await %s: %w", opID, err)
		}
		printHistory(a.ex, opID)
	}
	return nil
}

func printHistory(ex *executor.Executor, opID smkit.OperationId) {
	entries, err := ex.History(opID)
	if err != nil {
		fmt.Printf("operation %s: failed to read history: %v\n", opID, err)
		return
	}
	fmt.Printf("operation %s:\n", opID)
	for _, e := range entries {
		fmt.Printf("  seq=%d kind=%s at=%s\n", e.Seq, e.Kind, e.CreatedAt.Format("15:04:05.000"))
	}
}
