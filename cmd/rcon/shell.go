package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Zereker/rcon"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive session",
	Long: `Shell reads commands line by line from standard input and prints each
response. Type 'exit' or 'quit', or send EOF, to leave.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Disconnect()

		pterm.Success.Printfln("connected to %s:%d", host, port)
		return runShell(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// commander is the part of *rcon.Client the shell needs.
type commander interface {
	SendCommand(ctx context.Context, command string) (string, error)
}

var prompt = pterm.FgCyan.Sprint("rcon> ")

// runShell sends each line read from in and writes the responses to out. A
// failed command is reported and the loop goes on, unless the server went away.
func runShell(ctx context.Context, c commander, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		resp, err := c.SendCommand(ctx, line)
		if err != nil {
			if rcon.IsDisconnect(err) || ctx.Err() != nil {
				return err
			}
			fmt.Fprint(out, pterm.Error.Sprintln(err))
			continue
		}
		fmt.Fprintln(out, resp)
	}
}
