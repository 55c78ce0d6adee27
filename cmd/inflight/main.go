// Command inflight applies chat mutations optimistically and confirms them
// with the server over ZeroMQ.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/inflight/internal/cli"
	"github.com/roach88/inflight/internal/config"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/realtime/zmqchan"
)

func main() {
	cmd := cli.NewRootCommand(dialZMQ)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "inflight: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}

// dialZMQ connects the RPC and push sockets named in the config.
func dialZMQ(cfg config.Realtime, logger *slog.Logger) (realtime.Channel, io.Closer, error) {
	ch, err := zmqchan.Dial(zmqchan.Config{
		RPCEndpoint:  cfg.RPCEndpoint,
		PushEndpoint: cfg.PushEndpoint,
		PollInterval: cfg.PollInterval,
	}, zmqchan.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return ch, ch, nil
}
