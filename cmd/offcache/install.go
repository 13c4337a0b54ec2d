package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Fetch and activate the configured version without serving",
	Long: "Fetch every resource of the configured manifest into its version's store\n" +
		"and activate it, deleting older versions. With the disk or redis provider\n" +
		"a later serve starts offline-ready.",
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	ctrl, err := a.reg.Update(ctx, cfg.Manifest)
	if err != nil {
		return err
	}
	// optional resources are fetched in the background; let them land
	if err := ctrl.Settled(ctx); err != nil {
		return err
	}

	info, _, err := a.storage.Stat(ctx, ctrl.Version())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d entries\n", ctrl.Version(), ctrl.State(), info.Entries)
	return nil
}
