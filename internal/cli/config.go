package cli

import (
	"fmt"
	"os"

	"github.com/nace/volcrypt/internal/config"
	"github.com/spf13/cobra"
)

// ConfigCommand manages the configuration file
type ConfigCommand struct {
	ctx    *GlobalContext
	path   string
	system bool
	force  bool
}

// NewConfigCommand creates the config command
func NewConfigCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ConfigCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to a file",
		Args:  cobra.NoArgs,
		RunE:  cmd.Init,
	}
	initCmd.Flags().StringVar(&cmd.path, "path", "", "Destination (default: user config directory)")
	initCmd.Flags().BoolVar(&cmd.system, "system", false, "Write the system-wide file instead")
	initCmd.Flags().BoolVar(&cmd.force, "force", false, "Overwrite an existing file")

	cobraCmd.AddCommand(initCmd)
	return cobraCmd
}

// Init executes config init
func (c *ConfigCommand) Init(cmd *cobra.Command, args []string) error {
	path := c.path
	if path == "" {
		var err error
		if path, err = config.Path(c.system); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !c.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Write(c.ctx.Config, path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	c.ctx.Logger.Success("Configuration written to %s", path)
	return nil
}
