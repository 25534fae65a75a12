package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/roffe/elmuds/cmd/udstool/cmd"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Info().Msgf("got %v, exiting", s)
		cancel()
		// Failsafe if there is deadlocks
		<-time.After(10 * time.Second)
		log.Fatal().Msg("took to long to shutdown, forcefully exiting")
	}()
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
