package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/subnetx/app/harvester"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := harvester.Initialize(ctx)

	app.Start(ctx)
}
