package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// ToolCommand inspects the VeraCrypt installation
type ToolCommand struct {
	ctx *GlobalContext
	out io.Writer
}

// NewToolCommand creates the tool command and its subcommands
func NewToolCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ToolCommand{ctx: ctx, out: os.Stdout}

	cobraCmd := &cobra.Command{
		Use:   "tool",
		Short: "Inspect the VeraCrypt installation",
	}

	cobraCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check that VeraCrypt is installed and runs",
		Args:  cobra.NoArgs,
		RunE:  cmd.Check,
	})
	cobraCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the VeraCrypt version",
		Args:  cobra.NoArgs,
		RunE:  cmd.Version,
	})

	return cobraCmd
}

// Check executes tool check
func (c *ToolCommand) Check(cmd *cobra.Command, args []string) error {
	if !c.ctx.Service.CheckToolInstallation(cmd.Context()) {
		return fmt.Errorf("VeraCrypt is not installed or does not run")
	}
	c.ctx.Logger.Success("VeraCrypt found at %s", c.ctx.Service.ToolState().Path)
	return nil
}

// Version executes tool version
func (c *ToolCommand) Version(cmd *cobra.Command, args []string) error {
	if err := c.ctx.RequireTool(cmd.Context()); err != nil {
		return err
	}
	v, err := c.ctx.Service.GetToolVersion(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, v)
	return nil
}
