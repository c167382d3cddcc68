// Rcond is a demo RCON server.
//
// It answers commands listed in the configuration file with their canned
// response and echoes anything else back. Connection events are logged.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/Zereker/rcon"
	"github.com/Zereker/rcon/internal/config"
	"github.com/Zereker/rcon/internal/logging"
)

func main() {
	configPath := flag.String("config", "rcond.yml", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		pterm.Error.Printfln("failed to load configuration: %v", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		pterm.Error.Printfln("invalid log_level: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	srv, err := rcon.NewServer(cfg.Password, cfg.Port, cfg.ServerOptions(logger)...)
	if err != nil {
		return err
	}
	defer srv.Stop()

	watch(srv, logger)
	srv.HandleCommand(commandHandler(cfg.Commands))

	logger.Info("rcond listening", "addr", srv.Addr())
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("rcond stopped")
	return nil
}

// watch logs the server's connection lifecycle.
func watch(srv *rcon.Server, logger *slog.Logger) {
	srv.OnClientAuthenticated(func(peer rcon.Peer) {
		logger.Info("peer authenticated", "peer", peer.String())
	})
	srv.OnClientDisconnected(func(addr net.Addr) {
		logger.Info("peer left", "remote_addr", addr)
	})
	srv.OnPacketReceived(func(peer rcon.Peer, p rcon.Packet) {
		logger.Debug("packet", "peer", peer.ID, "id", p.ID, "kind", rcon.Classify(p, rcon.ToServer))
	})
}

// commandHandler answers a command from canned, matching on the first word
// case-insensitively, or echoes it back.
func commandHandler(canned map[string]string) rcon.CommandHandler {
	responses := make(map[string]string, len(canned))
	for k, v := range canned {
		responses[strings.ToLower(k)] = v
	}

	return func(_ rcon.Peer, command string) string {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return ""
		}
		if resp, ok := responses[strings.ToLower(fields[0])]; ok {
			return resp
		}
		return command
	}
}
