package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/nace/volcrypt/internal/disk"
	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/ui"
	"github.com/spf13/cobra"
)

// ListCommand handles listing disks
type ListCommand struct {
	ctx     *GlobalContext
	long    bool
	json    bool
	refresh bool
	out     io.Writer
}

// NewListCommand creates the list command
func NewListCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ListCommand{ctx: ctx, out: os.Stdout}

	cobraCmd := &cobra.Command{
		Use:   "list",
		Short: "List disks and volumes",
		Long: `List the volumes the operating system reports, with their encryption
status. An empty list means discovery failed, not that there are no disks.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.long, "long", "l", false, "Show every field of each volume")
	cobraCmd.Flags().BoolVarP(&cmd.json, "json", "j", false, "JSON output")
	cobraCmd.Flags().BoolVar(&cmd.refresh, "refresh", false, "Bypass the disk cache")

	return cobraCmd
}

// Run executes the list command
func (c *ListCommand) Run(cmd *cobra.Command, args []string) error {
	disks := c.ctx.Service.ListDisks(cmd.Context(), c.refresh)

	if c.json {
		return ui.FprintJSON(c.out, disks)
	}

	if len(disks) == 0 {
		fmt.Fprintln(c.out, "No disks found (discovery may have failed; run with --verbose)")
		return nil
	}

	if c.long {
		for i, d := range disks {
			if i > 0 {
				fmt.Fprintln(c.out)
			}
			printDisk(c.out, d)
		}
		return nil
	}

	table := ui.NewTable("DEVICE", "MOUNT", "FS", "SIZE", "FREE", "TYPE", "ENCRYPTION", "LABEL")
	for _, d := range disks {
		table.AddRow(
			d.DevicePath,
			d.MountPoint,
			d.Filesystem,
			sizeOrDash(d.Size),
			sizeOrDash(d.FreeSpace),
			string(d.DriveType),
			string(d.Encryption),
			d.Label,
		)
	}
	table.Fprint(c.out)
	return nil
}

func sizeOrDash(n uint64) string {
	if n == 0 {
		return ""
	}
	return system.FormatSize(n)
}

func printDisk(w io.Writer, d disk.Disk) {
	fmt.Fprintf(w, "Volume: %s\n", d.ID)
	fmt.Fprintf(w, "  Device: %s\n", d.DevicePath)
	if d.MountPoint != "" {
		fmt.Fprintf(w, "  Mount Point: %s\n", d.MountPoint)
	}
	if d.Label != "" {
		fmt.Fprintf(w, "  Label: %s\n", d.Label)
	}
	if d.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", d.Description)
	}
	if d.Filesystem != "" {
		fmt.Fprintf(w, "  Filesystem: %s\n", d.Filesystem)
	}
	fmt.Fprintf(w, "  Type: %s\n", d.DriveType)
	if d.MediaType != "" {
		fmt.Fprintf(w, "  Media: %s\n", d.MediaType)
	}
	fmt.Fprintf(w, "  Encryption: %s\n", d.Encryption)
	if d.Size > 0 {
		fmt.Fprintf(w, "  Size: %s\n", system.FormatSize(d.Size))
		fmt.Fprintf(w, "  Free: %s (%.1f%% used)\n", system.FormatSize(d.FreeSpace), d.UsedPercent())
	}
}
