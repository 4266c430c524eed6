package cli

import (
	"context"

	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/ui"
	"github.com/nace/volcrypt/internal/volume"
	"github.com/spf13/cobra"
)

// MountCommand handles volume mounting
type MountCommand struct {
	ctx      *GlobalContext
	keyfile  string
	readonly bool
}

// NewMountCommand creates the mount command
func NewMountCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &MountCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "mount <device> [target]",
		Short: "Mount an encrypted volume",
		Long: `Mount a VeraCrypt volume. The target is a drive letter on Windows or a
directory elsewhere; when omitted a free one is chosen.`,
		Args: cobra.MaximumNArgs(2),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.keyfile, "keyfile", "k", "", "Keyfile path (if not set, will prompt for password)")
	cobraCmd.Flags().BoolVarP(&cmd.readonly, "readonly", "r", false, "Mount as read-only")

	return cobraCmd
}

// Run executes the mount command
func (c *MountCommand) Run(cmd *cobra.Command, args []string) error {
	var device, target string
	if len(args) > 0 {
		device = args[0]
	} else {
		device = ui.PromptString("Device or container path")
	}
	if len(args) > 1 {
		target = args[1]
	}

	if err := system.RequireRoot(); err != nil {
		return err
	}

	if err := c.ctx.RequireTool(cmd.Context()); err != nil {
		return err
	}

	password, err := GetPassword(c.keyfile, false)
	if err != nil {
		return err
	}

	res := c.ctx.runOperation(func(ctx context.Context) volume.Result {
		return c.ctx.Service.MountVolume(ctx, volume.MountParams{
			DevicePath: device,
			Password:   password,
			KeyFile:    c.keyfile,
			ReadOnly:   c.readonly,
			Target:     target,
		})
	})
	if err := resultError(res); err != nil {
		return err
	}

	c.ctx.Logger.Success("Volume mounted at: %s", res.MountTarget)
	return nil
}
