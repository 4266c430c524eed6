package cli

import (
	"io"
	"os"

	"github.com/nace/volcrypt/internal/ui"
	"github.com/spf13/cobra"
)

// InfoCommand shows one disk
type InfoCommand struct {
	ctx  *GlobalContext
	json bool
	out  io.Writer
}

// NewInfoCommand creates the info command
func NewInfoCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &InfoCommand{ctx: ctx, out: os.Stdout}

	cobraCmd := &cobra.Command{
		Use:   "info <device>",
		Short: "Show details of a disk",
		Long:  `Show a disk by device path, volume identifier or mount point.`,
		Args:  cobra.ExactArgs(1),
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.json, "json", "j", false, "JSON output")

	return cobraCmd
}

// Run executes the info command
func (c *InfoCommand) Run(cmd *cobra.Command, args []string) error {
	d, err := c.ctx.Service.GetDiskDetails(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if c.json {
		return ui.FprintJSON(c.out, d)
	}
	printDisk(c.out, d)
	return nil
}
