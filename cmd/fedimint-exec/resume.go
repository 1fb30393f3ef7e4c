package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Start the executor against an existing data directory and wait for all active operations to finish",
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.ex.Start(ctx); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}

	active := a.ex.GetActiveOperations()
	a.log.Info().Int("active_operations", len(active)).Msg("resumed")

	for _, opID := range active {
		if err := a.ex.AwaitInactive(ctx, opID); err != nil {
			return fmt.Errorf("await %s: %w", opID, err)
		}
		printHistory(a.ex, opID)
	}
	return nil
}
