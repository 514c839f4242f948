package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		reportError(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// reportError logs a failed command to w.
func reportError(w io.Writer, err error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true})
	logger.Error().Err(err).Msg("command failed")
}
