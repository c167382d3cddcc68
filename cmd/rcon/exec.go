package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec COMMAND [ARGS...]",
	Short: "Run a single command and print its response",
	Example: `  rcon exec --password secret status
  RCON_PASSWORD=secret rcon exec --host 10.0.0.5 say hello`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Disconnect()

		resp, err := c.SendCommand(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), resp)
		return err
	},
}
