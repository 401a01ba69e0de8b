package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCommand prints the configuration dirwatch would run with.
type configCommand struct {
	cmd  *cobra.Command
	opts *options
}

func (c *configCommand) Meta() *cobra.Command {
	if c.cmd == nil {
		c.cmd = &cobra.Command{
			Use:   "config [path]",
			Short: "Print the resolved configuration as YAML",
			Args:  cobra.MaximumNArgs(1),
		}
	}
	return c.cmd
}

func (c *configCommand) Execute(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags(), c.opts, args)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
