package cli

import (
	"github.com/spf13/cobra"
)

// CleanupCommand removes leftovers of interrupted runs
type CleanupCommand struct {
	ctx *GlobalContext
}

// NewCleanupCommand creates the cleanup command
func NewCleanupCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &CleanupCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftover temporary files",
		Long: `Remove entropy files and empty, unmounted scratch mount points left
behind by interrupted runs.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}
}

// Run executes the cleanup command
func (c *CleanupCommand) Run(cmd *cobra.Command, args []string) error {
	n, err := c.ctx.Service.CleanupTempFiles(cmd.Context())
	if err != nil {
		return err
	}
	if n == 0 {
		c.ctx.Logger.Info("Nothing to clean up")
		return nil
	}
	c.ctx.Logger.Success("Removed %d leftover file(s)", n)
	return nil
}
