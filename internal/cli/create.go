package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/ui"
	"github.com/nace/volcrypt/internal/volume"
	"github.com/spf13/cobra"
)

// CreateCommand handles volume creation
type CreateCommand struct {
	ctx        *GlobalContext
	algorithm  string
	hash       string
	filesystem string
	size       string
	keyfile    string
	quick      bool
	hidden     bool
	yes        bool
}

// NewCreateCommand creates the create command
func NewCreateCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &CreateCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "create <device>",
		Short: "Create an encrypted volume",
		Long: `Format a partition, device or container file as a VeraCrypt volume.
All existing data on the target is destroyed.

Supported algorithms: ` + strings.Join(volume.Algorithms(), ", ") + `
Supported hashes: ` + strings.Join(volume.Hashes(), ", ") + `
Supported filesystems: ` + strings.Join(volume.Filesystems(), ", "),
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.algorithm, "algorithm", "a", "", "Encryption algorithm (default from config)")
	cobraCmd.Flags().StringVar(&cmd.hash, "hash", "", "Header key derivation hash (default from config)")
	cobraCmd.Flags().StringVarP(&cmd.filesystem, "filesystem", "f", "", "Filesystem to format with (default from config)")
	cobraCmd.Flags().StringVarP(&cmd.size, "size", "s", "", "Container size for file containers (e.g., 500M, 2G)")
	cobraCmd.Flags().StringVarP(&cmd.keyfile, "keyfile", "k", "", "Keyfile path (if not set, will prompt for passphrase)")
	cobraCmd.Flags().BoolVar(&cmd.quick, "quick", false, "Quick format (skip filling free space with random data)")
	cobraCmd.Flags().BoolVar(&cmd.hidden, "hidden", false, "Create a hidden volume")
	cobraCmd.Flags().BoolVarP(&cmd.yes, "yes", "y", false, "Do not ask for confirmation")

	return cobraCmd
}

// Run executes the create command
func (c *CreateCommand) Run(cmd *cobra.Command, args []string) error {
	var device string
	if len(args) > 0 {
		device = args[0]
	} else {
		device = ui.PromptString("Device or container path")
	}

	if err := system.RequireRoot(); err != nil {
		return err
	}

	if err := c.ctx.RequireTool(cmd.Context()); err != nil {
		return err
	}

	if !c.yes && !ui.PromptConfirm(fmt.Sprintf("All data on %s will be destroyed. Continue?", device)) {
		return fmt.Errorf("aborted")
	}

	password, err := GetPassword(c.keyfile, true)
	if err != nil {
		return err
	}

	res := c.ctx.runOperation(func(ctx context.Context) volume.Result {
		return c.ctx.Service.CreateVolume(ctx, volume.CreateParams{
			DevicePath: device,
			Password:   password,
			Algorithm:  c.algorithm,
			Hash:       c.hash,
			Filesystem: c.filesystem,
			Size:       c.size,
			KeyFile:    c.keyfile,
			Quick:      c.quick,
			Hidden:     c.hidden,
		})
	})
	if err := resultError(res); err != nil {
		return err
	}

	c.ctx.Logger.Success("%s", res.Message)
	return nil
}
