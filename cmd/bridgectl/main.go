// Command bridgectl inspects and clears the credential cache shared by
// weixin-bridge instances. It reads the same environment configuration as the
// service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	zerolog.DefaultContextLogger = &log.Logger

	err := NewRootCommand(openStore).ExecuteContext(ctx)
	if err != nil {
		os.Exit(1)
	}
}
