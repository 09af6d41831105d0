package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetpatch/fleetpatch/internal/runner"
	"github.com/projectdiscovery/gologger"
)

func main() {
	options := runner.ParseOptions()
	patchRunner, err := runner.NewRunner(options)
	if err != nil {
		gologger.Fatal().Msgf("Could not create runner: %s\n", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup close handler: cancelling the run context stops forward
	// progress, the orchestrator still revokes ephemeral access before
	// Run returns.
	go func() {
		<-c
		fmt.Println("\r- Ctrl+C pressed in Terminal, cleaning up...")
		patchRunner.Close()
		cancel()
	}()

	err = patchRunner.Run(ctx)
	if err != nil {
		gologger.Fatal().Msgf("Could not run fleetpatch: %s\n", err)
	}
}
