package cli

import (
	"context"
	"fmt"

	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/volume"
	"github.com/spf13/cobra"
)

// UnmountCommand handles volume unmounting
type UnmountCommand struct {
	ctx   *GlobalContext
	id    string
	force bool
}

// NewUnmountCommand creates the unmount command
func NewUnmountCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &UnmountCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "unmount [device]",
		Short: "Unmount an encrypted volume",
		Long: `Dismount a VeraCrypt volume, selected by drive letter or mount point
(--id) or by its device path. Without --force a busy volume is retried a few
times before giving up.`,
		Aliases: []string{"dismount"},
		Args:    cobra.MaximumNArgs(1),
		RunE:    cmd.Run,
	}

	cobraCmd.Flags().StringVar(&cmd.id, "id", "", "Drive letter or mount point of the volume")
	cobraCmd.Flags().BoolVarP(&cmd.force, "force", "f", false, "Force dismount even if files are open")

	return cobraCmd
}

// Run executes the unmount command
func (c *UnmountCommand) Run(cmd *cobra.Command, args []string) error {
	var device string
	if len(args) > 0 {
		device = args[0]
	}
	if device == "" && c.id == "" {
		return fmt.Errorf("specify a device or --id")
	}

	if err := system.RequireRoot(); err != nil {
		return err
	}

	if err := c.ctx.RequireTool(cmd.Context()); err != nil {
		return err
	}

	res := c.ctx.runOperation(func(ctx context.Context) volume.Result {
		return c.ctx.Service.UnmountVolume(ctx, volume.UnmountParams{
			DevicePath: device,
			MountID:    c.id,
			Force:      c.force,
		})
	})
	if err := resultError(res); err != nil {
		return err
	}

	c.ctx.Logger.Success("%s", res.Message)
	return nil
}
