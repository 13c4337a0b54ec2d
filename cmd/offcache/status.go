package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/offcache"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored versions",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
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

	infos, err := offcache.ListStores(ctx, a.storage)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printStores(out, infos, cfg.Manifest.Version, time.Now())

	if a.disk != nil {
		files, size, err := a.disk.Usage()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s: %d files, %s\n", cfg.DiskDir, files, humanize.Bytes(uint64(size)))
	}
	return nil
}

// printStores writes one row per store; current marks the configured version.
func printStores(w io.Writer, infos []offcache.StoreInfo, current string, now time.Time) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "no stores")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tENTRIES\tSEALED\tCREATED\t")
	for _, info := range infos {
		name := info.Name
		if name == current {
			name += " *"
		}
		sealed := "no"
		if info.Digest != "" {
			sealed = info.Digest[:min(12, len(info.Digest))]
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", name, info.Entries, sealed, humanize.RelTime(info.Created, now, "ago", "from now"))
	}
	_ = tw.Flush()
}
