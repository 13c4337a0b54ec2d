package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	purgeAll bool

	purgeCmd = &cobra.Command{
		Use:   "purge [VERSION...]",
		Short: "Delete stored versions",
		RunE:  runPurge,
	}
)

func init() {
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "delete every stored version")
}

func runPurge(cmd *cobra.Command, args []string) error {
	if purgeAll == (len(args) > 0) {
		return errors.New("name versions to delete or pass --all")
	}
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

	names := args
	if purgeAll {
		if names, err = a.storage.Keys(ctx); err != nil {
			return err
		}
	}

	var errs []error
	for _, name := range names {
		ok, err := a.storage.Delete(ctx, name)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		case ok:
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", name)
		}
	}
	return errors.Join(errs...)
}
