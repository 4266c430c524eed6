package cli

import (
	"context"

	"github.com/nace/volcrypt/internal/volume"
	"github.com/spf13/cobra"
)

// DecryptCommand reports that in-place decryption is not available
type DecryptCommand struct {
	ctx *GlobalContext
}

// NewDecryptCommand creates the decrypt command
func NewDecryptCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &DecryptCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "decrypt <device>",
		Short: "Remove encryption from a volume (unsupported)",
		Long: `VeraCrypt cannot decrypt a volume in place. Mount it, copy the data off,
reformat the device and copy the data back instead.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}
}

// Run executes the decrypt command
func (c *DecryptCommand) Run(cmd *cobra.Command, args []string) error {
	res := c.ctx.Service.DecryptVolume(context.Background(), volume.DecryptParams{DevicePath: args[0]})
	return resultError(res)
}
