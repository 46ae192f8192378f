package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [sourceID]",
	Short: "Sync one source, or every enabled source, and exit",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		sum, err := a.syncer.SyncAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced: %d ok, %d failed, %d skipped\n", sum.OK, sum.Failed, sum.Skipped)
		if sum.Failed > 0 {
			return fmt.Errorf("%d source(s) failed to sync", sum.Failed)
		}
		return nil
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid source id %q", args[0])
	}
	started, err := a.syncer.SyncSource(ctx, id)
	if err != nil {
		return err
	}
	if !started {
		fmt.Fprintf(cmd.OutOrStdout(), "source %d is already syncing\n", id)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "source %d synced\n", id)
	return nil
}
