// Rcon is a command line RCON client.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Zereker/rcon"
	"github.com/Zereker/rcon/internal/config"
	"github.com/Zereker/rcon/internal/logging"
)

var (
	host     string
	port     int
	password string
	timeout  time.Duration
	logLevel string
)

var errAuthRejected = errors.New("authentication rejected: wrong password")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rcon",
	Short: "Remote console client for Source RCON servers",
	Long: `Rcon connects to a server speaking the Source RCON protocol,
authenticates and runs commands.

Use 'rcon exec' for a single command and 'rcon shell' for an interactive
session. The password may also be given in the RCON_PASSWORD environment
variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "Server host")
	rootCmd.PersistentFlags().IntVar(&port, "port", config.DefaultPort, "Server RCON port")
	rootCmd.PersistentFlags().StringVar(&password, "password", os.Getenv(config.PasswordEnv), "RCON password")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", rcon.DefaultClientTimeout, "Dial and round trip timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error or off")

	rootCmd.AddCommand(execCmd, shellCmd)
}

// dial connects and authenticates with the flag values.
func dial(ctx context.Context) (*rcon.Client, error) {
	logger, err := logging.New(logLevel)
	if err != nil {
		return nil, err
	}

	c := rcon.NewClient(
		rcon.ClientLoggerOption(logger),
		rcon.ClientTimeoutOption(timeout),
	)

	if _, err := c.Connect(ctx, host, port); err != nil {
		return nil, err
	}

	ok, err := c.Authenticate(ctx, password)
	if err == nil && !ok {
		err = errAuthRejected
	}
	if err != nil {
		_ = c.Disconnect()
		return nil, err
	}
	return c, nil
}
